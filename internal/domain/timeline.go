package domain

import "time"

// TimelineEntry описывает одну запись в журнале статусов возврата.
// Журнал append-only: записи никогда не изменяются и не удаляются.
type TimelineEntry struct {
	Status   ReturnStatus
	Message  string
	Occurred time.Time
}
