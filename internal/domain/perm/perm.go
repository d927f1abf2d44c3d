// Пакет perm — логика определения эффективного набора разрешений.
// Правила: роль coordinator всегда даёт {all: true} независимо от
// сохранённого набора (роль превосходит гранты записи персонала).
// all == true логически покрывает все остальные ключи.
package perm

import "github.com/bigkaa/condoflow/sync-module/internal/domain/model"

// CoordinatorSet — эффективный набор разрешений координатора.
func CoordinatorSet() model.PermissionSet {
	return model.PermissionSet{model.PermAll: true}
}

// Effective вычисляет эффективный набор разрешений для роли и
// сохранённого набора. Для coordinator сохранённый набор игнорируется.
func Effective(role model.Role, stored model.PermissionSet) model.PermissionSet {
	if role == model.RoleCoordinator {
		return CoordinatorSet()
	}
	if stored == nil {
		return model.PermissionSet{}
	}
	return stored.Clone()
}

// Has проверяет наличие разрешения: all == true или set[key] == true.
func Has(set model.PermissionSet, key string) bool {
	if set == nil {
		return false
	}
	if set[model.PermAll] {
		return true
	}
	return set[key]
}

// HasAny — true если предоставлен all или хотя бы один ключ.
func HasAny(set model.PermissionSet) bool {
	if set == nil {
		return false
	}
	if set[model.PermAll] {
		return true
	}
	for _, granted := range set {
		if granted {
			return true
		}
	}
	return false
}

// validKeys — набор допустимых ключей для быстрой проверки.
var validKeys = toSet(model.PermissionKeys)

// ValidKey проверяет, является ли строка допустимым ключом разрешения.
func ValidKey(key string) bool {
	return validKeys[key]
}

// ValidStaffRole проверяет допустимость роли персонала.
func ValidStaffRole(role model.StaffRole) bool {
	switch role {
	case model.StaffCoordinator, model.StaffFinancial, model.StaffSecurity,
		model.StaffMaintenance, model.StaffAdministration, model.StaffSecretary:
		return true
	}
	return false
}

// toSet конвертирует срез строк в map для быстрого поиска.
func toSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, item := range items {
		s[item] = true
	}
	return s
}
