// Пакет poll — примитив опроса с таймаутом и backoff.
// Используется для ожидания строк, создаваемых серверными триггерами
// backend асинхронно (например, профиль после регистрации): вместо
// фиксированной задержки — явный опрос с предсказуемым дедлайном.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout — условие не выполнено за отведённое время.
var ErrTimeout = errors.New("условие опроса не выполнено за отведённое время")

// Func — проверяемое условие. Возвращает true когда условие выполнено.
// Ошибка прерывает опрос немедленно.
type Func func(ctx context.Context) (bool, error)

// Until опрашивает условие с постоянным интервалом до выполнения,
// таймаута или отмены контекста. Первая проверка — сразу, без ожидания.
func Until(ctx context.Context, interval, timeout time.Duration, fn Func) error {
	return run(ctx, interval, interval, timeout, fn)
}

// UntilBackoff опрашивает условие с экспоненциальным backoff:
// интервал удваивается после каждой неудачной проверки до maxInterval.
func UntilBackoff(ctx context.Context, initial, maxInterval, timeout time.Duration, fn Func) error {
	return run(ctx, initial, maxInterval, timeout, fn)
}

func run(ctx context.Context, interval, maxInterval, timeout time.Duration, fn Func) error {
	if interval <= 0 {
		return fmt.Errorf("некорректный интервал опроса: %v", interval)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrTimeout
			}
			return ctx.Err()
		case <-timer.C:
		}

		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		timer.Reset(interval)
		if interval < maxInterval {
			interval *= 2
			if interval > maxInterval {
				interval = maxInterval
			}
		}
	}
}
