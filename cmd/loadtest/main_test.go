package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		input   string
		want    loadMode
		wantErr bool
	}{
		{input: "validate", want: modeValidate},
		{input: " validate-apply ", want: modeValidateApply},
		{input: "create", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		got, err := parseMode(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseMode(%q) expected error", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseMode(%q) unexpected error: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseMode(%q) = %s, want %s", tt.input, got, tt.want)
		}
	}
}

func TestDispatchJobs_CountMode(t *testing.T) {
	jobs := make(chan int, 16)
	dispatchJobs(jobs, config{total: 5})

	var got []int
	for id := range jobs {
		got = append(got, id)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 jobs, got %d", len(got))
	}
}

func TestDispatchJobs_DurationMode(t *testing.T) {
	jobs := make(chan int, 1024)
	start := time.Now()
	dispatchJobs(jobs, config{duration: 50 * time.Millisecond})
	elapsed := time.Since(start)

	if elapsed < 50*time.Millisecond {
		t.Fatalf("dispatch finished too early: %s", elapsed)
	}

	count := 0
	for range jobs {
		count++
	}
	if count == 0 {
		t.Fatal("expected at least one job in duration mode")
	}
}

func TestDispatchJobs_DurationWithTotalCap(t *testing.T) {
	jobs := make(chan int, 16)
	dispatchJobs(jobs, config{duration: time.Second, total: 3, totalSet: true})

	count := 0
	for range jobs {
		count++
	}
	if count != 3 {
		t.Fatalf("expected 3 jobs with explicit total cap, got %d", count)
	}
}

func TestCollectorAndReport(t *testing.T) {
	col := newCollector()

	col.record("scenario", 10*time.Millisecond, "ok", true)
	col.record("scenario", 20*time.Millisecond, "failed", false)
	col.record("ValidateCoupon", 5*time.Millisecond, "200", true)
	col.record("ValidateCoupon", 7*time.Millisecond, "500", false)

	startedAt := time.Now().Add(-time.Second)
	result := col.buildReport(startedAt, time.Second)

	if result.TotalScenarios != 2 {
		t.Fatalf("expected 2 scenarios, got %d", result.TotalScenarios)
	}
	if result.SuccessScenarios != 1 || result.FailedScenarios != 1 {
		t.Fatalf("unexpected scenario counts: %+v", result)
	}
	if result.ErrorRate != 0.5 {
		t.Fatalf("expected error rate 0.5, got %f", result.ErrorRate)
	}
	if result.RPS != 2 {
		t.Fatalf("expected rps 2, got %f", result.RPS)
	}

	validate, ok := result.Methods["ValidateCoupon"]
	if !ok {
		t.Fatal("expected ValidateCoupon method report")
	}
	if validate.Calls != 2 || validate.Success != 1 || validate.Failed != 1 {
		t.Fatalf("unexpected method counts: %+v", validate)
	}
	if validate.Statuses["200"] != 1 || validate.Statuses["500"] != 1 {
		t.Fatalf("unexpected status distribution: %+v", validate.Statuses)
	}
}

func TestAcceptancePredicates(t *testing.T) {
	if !validateAccepted(http.StatusOK) {
		t.Error("200 must be accepted for validate")
	}
	if validateAccepted(http.StatusConflict) {
		t.Error("409 is not expected from validate")
	}
	if !applyAccepted(http.StatusOK) || !applyAccepted(http.StatusConflict) {
		t.Error("200 and 409 must be accepted for apply")
	}
	if applyAccepted(http.StatusNotFound) {
		t.Error("404 must not be accepted for apply")
	}
}

func TestPercentileAndLatencySummary(t *testing.T) {
	if got := percentile(nil, 50); got != 0 {
		t.Errorf("percentile(nil) = %f, want 0", got)
	}
	if got := percentile([]float64{42}, 99); got != 42 {
		t.Errorf("percentile(single) = %f, want 42", got)
	}

	sorted := []float64{1, 2, 3, 4, 5}
	if got := percentile(sorted, 50); got != 3 {
		t.Errorf("p50 = %f, want 3", got)
	}
	if got := percentile(sorted, 100); got != 5 {
		t.Errorf("p100 = %f, want 5", got)
	}

	summary := buildLatencySummary([]float64{5, 1, 3})
	if summary.Min != 1 || summary.Max != 5 {
		t.Errorf("unexpected min/max: %+v", summary)
	}
	if summary.Avg != 3 {
		t.Errorf("unexpected avg: %f", summary.Avg)
	}

	if got := buildLatencySummary(nil); got != (latencySummary{}) {
		t.Errorf("empty summary should be zero value, got %+v", got)
	}
}

func TestRatio(t *testing.T) {
	if got := ratio(1, 4); got != 0.25 {
		t.Errorf("ratio(1,4) = %f, want 0.25", got)
	}
	if got := ratio(1, 0); got != 0 {
		t.Errorf("ratio with zero total = %f, want 0", got)
	}
}

func TestWriteJSONReport(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.json")

	result := report{TotalScenarios: 10, SuccessScenarios: 10}
	if err := writeJSONReport(path, result); err != nil {
		t.Fatalf("writeJSONReport failed: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read report: %v", err)
	}

	var decoded report
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("report is not valid JSON: %v", err)
	}
	if decoded.TotalScenarios != 10 {
		t.Fatalf("unexpected decoded report: %+v", decoded)
	}

	if err := writeJSONReport(".", result); err == nil {
		t.Error("expected error for directory output path")
	}
	if err := writeJSONReport("../escape.json", result); err == nil {
		t.Error("expected error for path outside current directory")
	}
}

func TestRunScenario_ValidateOnly(t *testing.T) {
	var validateCalls, applyCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/coupons/validate":
			validateCalls++
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"valid":false,"reason":"coupon not found"}`))
		case "/api/coupons/apply":
			applyCalls++
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	cfg := config{
		baseURL:     srv.URL,
		mode:        modeValidate,
		coupon:      "load10",
		amountMinor: 1000,
		orderPrefix: "load",
		emailDomain: "load.example.com",
		timeout:     time.Second,
	}

	col := newCollector()
	if err := runScenario(srv.Client(), cfg, 1, "run-1", col); err != nil {
		t.Fatalf("validate scenario failed: %v", err)
	}
	if validateCalls != 1 {
		t.Fatalf("expected 1 validate call, got %d", validateCalls)
	}
	if applyCalls != 0 {
		t.Fatalf("validate mode must not call apply, got %d calls", applyCalls)
	}

	result := col.buildReport(time.Now().Add(-time.Second), time.Second)
	if result.TotalScenarios != 1 || result.FailedScenarios != 0 {
		t.Fatalf("unexpected report: %+v", result)
	}
}

func TestRunScenario_ApplyFailureIsRecorded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/coupons/validate":
			_, _ = w.Write([]byte(`{"valid":true}`))
		case "/api/coupons/apply":
			// Заказ не существует: сценарий должен зафиксировать провал.
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	cfg := config{
		baseURL:     srv.URL,
		mode:        modeValidateApply,
		coupon:      "load10",
		amountMinor: 1000,
		orderPrefix: "load",
		emailDomain: "load.example.com",
		timeout:     time.Second,
	}

	col := newCollector()
	if err := runScenario(srv.Client(), cfg, 1, "run-1", col); err == nil {
		t.Fatal("expected scenario error when apply returns 404")
	}

	result := col.buildReport(time.Now().Add(-time.Second), time.Second)
	if result.FailedScenarios != 1 {
		t.Fatalf("expected 1 failed scenario, got %d", result.FailedScenarios)
	}
	apply := result.Methods["ApplyCoupon"]
	if apply.Statuses["404"] != 1 {
		t.Fatalf("expected 404 recorded for apply, got %+v", apply.Statuses)
	}
}

func TestRunScenario_ApplyConflictIsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/coupons/validate":
			_, _ = w.Write([]byte(`{"valid":true}`))
		case "/api/coupons/apply":
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"applied":false,"reason":"coupon usage limit exceeded"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	cfg := config{
		baseURL:     srv.URL,
		mode:        modeValidateApply,
		coupon:      "load10",
		amountMinor: 1000,
		orderPrefix: "load",
		emailDomain: "load.example.com",
		timeout:     time.Second,
	}

	col := newCollector()
	if err := runScenario(srv.Client(), cfg, 1, "run-1", col); err != nil {
		t.Fatalf("conflict must count as success, got error: %v", err)
	}

	result := col.buildReport(time.Now().Add(-time.Second), time.Second)
	if result.FailedScenarios != 0 {
		t.Fatalf("expected no failed scenarios, got %d", result.FailedScenarios)
	}
}
