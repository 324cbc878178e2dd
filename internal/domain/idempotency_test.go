package domain

import (
	"testing"
	"time"
)

func TestIdempotencyStatusValid(t *testing.T) {
	tests := []struct {
		name   string
		status IdempotencyStatus
		want   bool
	}{
		{name: "processing", status: IdempotencyStatusProcessing, want: true},
		{name: "done", status: IdempotencyStatusDone, want: true},
		{name: "failed", status: IdempotencyStatusFailed, want: true},
		{name: "invalid", status: IdempotencyStatus("expired"), want: false},
		{name: "empty", status: IdempotencyStatus(""), want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.status.Valid(); got != tc.want {
				t.Fatalf("status %q valid=%v, want %v", tc.status, got, tc.want)
			}
		})
	}
}

func TestIdempotencyRecordLifecycle(t *testing.T) {
	now := time.Now()
	rec := IdempotencyRecord{
		Key:         "ord-1001:summer10",
		RequestHash: "a1b2c3",
		Status:      IdempotencyStatusProcessing,
		TTLAt:       now.Add(24 * time.Hour),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if !rec.Status.Valid() {
		t.Fatalf("processing record must carry a valid status")
	}

	rec.Status = IdempotencyStatusDone
	rec.ResponseBody = []byte(`{"applied":true}`)
	rec.HTTPStatus = 200
	rec.UpdatedAt = now.Add(time.Second)

	if !rec.Status.Valid() {
		t.Fatalf("done record must carry a valid status")
	}
	if rec.TTLAt.Before(rec.UpdatedAt) {
		t.Fatalf("record expired before processing finished")
	}
}
