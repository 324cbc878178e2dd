// Package version хранит сведения о сборке бинарей витрины.
package version

import "fmt"

// Значения проставляет линкер через -ldflags "-X .../internal/version.version=...".
// Без флагов остаются значения для локальной разработки.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Info возвращает версию, коммит и дату сборки по отдельности.
func Info() (v, c, d string) { return version, commit, date }

// String собирает сведения о сборке в одну строку для стартового лога
// и healthcheck-ответа.
func String() string {
	return fmt.Sprintf("storefront version=%s commit=%s date=%s", version, commit, date)
}
