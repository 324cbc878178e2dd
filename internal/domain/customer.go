package domain

import (
	"regexp"
	"strings"
	"time"
)

// emailPattern — умышленно нестрогая проверка формата: наличие локальной части,
// @ и домена с точкой. Полная RFC-валидация здесь не нужна.
var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Customer — учётная запись клиента витрины.
type Customer struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NormalizeEmail приводит email к канонической форме для поиска.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidEmail проверяет нормализованный email.
func ValidEmail(email string) bool {
	return emailPattern.MatchString(NormalizeEmail(email))
}
