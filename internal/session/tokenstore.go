// Пакет session — Session Store: явный жизненный цикл аутентификации
// поверх backend-клиента. Машина состояний anonymous → authenticating →
// authenticated → anonymous; сохранённые токены шифруются AES-256-GCM.
package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bigkaa/condoflow/sync-module/internal/backend"
)

// TokenStore — файловое хранилище сессии backend.
// Сессия сериализуется в JSON и шифруется AES-256-GCM перед записью;
// nonce добавляется в начало шифротекста.
type TokenStore struct {
	path string
	gcm  cipher.AEAD
}

// NewTokenStore создаёт хранилище токенов в файле path.
// key — ключ AES-256: base64-кодированные 32 байта, либо произвольная
// строка, хешируемая SHA-256 до 32 байт. Пустой key — случайный ключ,
// непостоянный между рестартами (сессия не переживёт перезапуск).
func NewTokenStore(path, key string) (*TokenStore, error) {
	var keyBytes []byte

	if key == "" {
		keyBytes = make([]byte, 32)
		if _, err := io.ReadFull(rand.Reader, keyBytes); err != nil {
			return nil, fmt.Errorf("генерация ключа хранилища токенов: %w", err)
		}
	} else {
		var err error
		keyBytes, err = base64.StdEncoding.DecodeString(key)
		if err != nil || len(keyBytes) != 32 {
			// Не base64 — хешируем строку до 32 байт
			h := sha256.Sum256([]byte(key))
			keyBytes = h[:]
		}
	}

	block, err := aes.NewCipher(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("создание AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("создание GCM: %w", err)
	}

	return &TokenStore{path: path, gcm: gcm}, nil
}

// Save шифрует и записывает сессию в файл (права 0600).
func (ts *TokenStore) Save(s *backend.Session) error {
	plaintext, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("сериализация сессии: %w", err)
	}

	nonce := make([]byte, ts.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("генерация nonce: %w", err)
	}
	ciphertext := ts.gcm.Seal(nonce, nonce, plaintext, nil)
	encoded := base64.URLEncoding.EncodeToString(ciphertext)

	if dir := filepath.Dir(ts.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("создание каталога хранилища токенов: %w", err)
		}
	}
	if err := os.WriteFile(ts.path, []byte(encoded), 0o600); err != nil {
		return fmt.Errorf("запись файла токенов: %w", err)
	}
	return nil
}

// Load читает и дешифрует сохранённую сессию.
// Отсутствие файла — (nil, nil). Повреждённый или нечитаемый
// шифротекст — ошибка: вызывающая сторона очищает хранилище.
func (ts *TokenStore) Load() (*backend.Session, error) {
	encoded, err := os.ReadFile(ts.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("чтение файла токенов: %w", err)
	}

	ciphertext, err := base64.URLEncoding.DecodeString(string(encoded))
	if err != nil {
		return nil, fmt.Errorf("декодирование base64: %w", err)
	}
	nonceSize := ts.gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, errors.New("повреждённый файл токенов: данные слишком короткие")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := ts.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("дешифрование сессии: %w", err)
	}

	var s backend.Session
	if err := json.Unmarshal(plaintext, &s); err != nil {
		return nil, fmt.Errorf("десериализация сессии: %w", err)
	}
	return &s, nil
}

// Clear удаляет файл токенов. Отсутствие файла не является ошибкой.
func (ts *TokenStore) Clear() error {
	if err := os.Remove(ts.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("удаление файла токенов: %w", err)
	}
	return nil
}
