package dispatch

import (
	"errors"
	"net/http"
	"testing"
	"time"
)

func intPtr(v int) *int { return &v }

func TestCredentialHeader(t *testing.T) {
	tests := []struct {
		name     string
		creds    []Credential
		expected string
	}{
		{
			name:     "two pairs in order",
			creds:    []Credential{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}},
			expected: "a=1; b=2",
		},
		{
			name:     "single pair",
			creds:    []Credential{{Key: "c_user", Value: "42"}},
			expected: "c_user=42",
		},
		{
			name:     "order preserved",
			creds:    []Credential{{Key: "z", Value: "9"}, {Key: "a", Value: "1"}},
			expected: "z=9; a=1",
		},
		{
			name:     "empty set",
			creds:    nil,
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CredentialHeader(tt.creds); got != tt.expected {
				t.Errorf("CredentialHeader() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestTargetDefaults(t *testing.T) {
	target := Target{URL: "https://example.com"}
	if target.RequestMethod() != http.MethodPost {
		t.Errorf("RequestMethod() = %q, want POST", target.RequestMethod())
	}
	if string(target.Payload()) != `{"someData":"value"}` {
		t.Errorf("Payload() = %s", target.Payload())
	}

	target = Target{URL: "https://example.com", Method: http.MethodGet, Body: []byte{}}
	if target.RequestMethod() != http.MethodGet {
		t.Errorf("RequestMethod() = %q, want GET", target.RequestMethod())
	}
	if len(target.Payload()) != 0 {
		t.Errorf("Payload() = %q, want empty", target.Payload())
	}
}

func TestLimitsApply(t *testing.T) {
	limits := Limits{MaxTotalCount: 1000, DefaultBatchSize: 10, MaxBatchSize: 50}

	tests := []struct {
		name          string
		job           Job
		expectedTotal int
		expectedBatch int
	}{
		{name: "defaults batch size", job: Job{TotalCount: 20}, expectedTotal: 20, expectedBatch: 10},
		{name: "clamps total", job: Job{TotalCount: 5000, BatchSize: 5}, expectedTotal: 1000, expectedBatch: 5},
		{name: "clamps batch size", job: Job{TotalCount: 100, BatchSize: 500}, expectedTotal: 100, expectedBatch: 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := limits.Apply(tt.job)
			if got.TotalCount != tt.expectedTotal {
				t.Errorf("TotalCount = %d, want %d", got.TotalCount, tt.expectedTotal)
			}
			if got.BatchSize != tt.expectedBatch {
				t.Errorf("BatchSize = %d, want %d", got.BatchSize, tt.expectedBatch)
			}
		})
	}

	got := Limits{}.Apply(Job{TotalCount: 3_000_000})
	if got.TotalCount != DefaultMaxTotalCount {
		t.Errorf("zero limits TotalCount = %d, want %d", got.TotalCount, DefaultMaxTotalCount)
	}
	if got.BatchSize != DefaultBatchSize {
		t.Errorf("zero limits BatchSize = %d, want %d", got.BatchSize, DefaultBatchSize)
	}
}

func TestShareRequest_Job(t *testing.T) {
	valid := ShareRequest{
		Cookies:  []Credential{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}},
		PostURL:  "https://example.com/share",
		Amounts:  250,
		Interval: intPtr(2),
	}

	job, err := valid.Job(DefaultLimits())
	if err != nil {
		t.Fatalf("Job() error = %v", err)
	}
	if job.TotalCount != 250 {
		t.Errorf("TotalCount = %d, want 250", job.TotalCount)
	}
	if job.BatchSize != DefaultBatchSize {
		t.Errorf("BatchSize = %d, want %d", job.BatchSize, DefaultBatchSize)
	}
	if job.Interval != 2*time.Second {
		t.Errorf("Interval = %v, want 2s", job.Interval)
	}
	if job.Header() != "a=1; b=2" {
		t.Errorf("Header() = %q, want %q", job.Header(), "a=1; b=2")
	}

	zeroInterval := valid
	zeroInterval.Interval = intPtr(0)
	if _, err := zeroInterval.Job(DefaultLimits()); err != nil {
		t.Errorf("zero interval should be accepted, got %v", err)
	}

	clamped := valid
	clamped.Amounts = 5_000_000
	job, err = clamped.Job(DefaultLimits())
	if err != nil {
		t.Fatalf("Job() error = %v", err)
	}
	if job.TotalCount != DefaultMaxTotalCount {
		t.Errorf("TotalCount = %d, want %d", job.TotalCount, DefaultMaxTotalCount)
	}
}

func TestShareRequest_JobRejects(t *testing.T) {
	base := func() ShareRequest {
		return ShareRequest{
			Cookies:  []Credential{{Key: "a", Value: "1"}},
			PostURL:  "https://example.com/share",
			Amounts:  10,
			Interval: intPtr(1),
		}
	}

	tests := []struct {
		name   string
		mutate func(*ShareRequest)
		field  string
	}{
		{name: "missing cookies", mutate: func(r *ShareRequest) { r.Cookies = nil }, field: "cookies"},
		{name: "empty cookie key", mutate: func(r *ShareRequest) { r.Cookies = []Credential{{Value: "x"}} }, field: "cookies"},
		{name: "missing url", mutate: func(r *ShareRequest) { r.PostURL = "" }, field: "postUrl"},
		{name: "relative url", mutate: func(r *ShareRequest) { r.PostURL = "/share" }, field: "postUrl"},
		{name: "bad scheme", mutate: func(r *ShareRequest) { r.PostURL = "ftp://example.com" }, field: "postUrl"},
		{name: "zero amounts", mutate: func(r *ShareRequest) { r.Amounts = 0 }, field: "amounts"},
		{name: "negative amounts", mutate: func(r *ShareRequest) { r.Amounts = -3 }, field: "amounts"},
		{name: "missing interval", mutate: func(r *ShareRequest) { r.Interval = nil }, field: "interval"},
		{name: "negative interval", mutate: func(r *ShareRequest) { r.Interval = intPtr(-1) }, field: "interval"},
		{name: "interval beyond duration range", mutate: func(r *ShareRequest) { r.Interval = intPtr(9223372037) }, field: "interval"},
		{name: "interval wrapping to small duration", mutate: func(r *ShareRequest) { r.Interval = intPtr(18446744074) }, field: "interval"},
		{name: "negative batch size", mutate: func(r *ShareRequest) { r.BatchSize = -1 }, field: "batchSize"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base()
			tt.mutate(&req)

			_, err := req.Job(DefaultLimits())
			if err == nil {
				t.Fatal("Expected error but got nil")
			}
			if !errors.Is(err, ErrInvalidJob) {
				t.Errorf("errors.Is(err, ErrInvalidJob) = false for %v", err)
			}
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("Expected *ValidationError, got %T", err)
			}
			if vErr.Field != tt.field {
				t.Errorf("Field = %q, want %q", vErr.Field, tt.field)
			}
		})
	}
}

func TestJobValidate(t *testing.T) {
	ok := Job{Target: Target{URL: "http://x"}, TotalCount: 1, BatchSize: 1}
	if err := ok.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}

	bad := []Job{
		{TotalCount: 1, BatchSize: 1},
		{Target: Target{URL: "http://x"}, TotalCount: 0, BatchSize: 1},
		{Target: Target{URL: "http://x"}, TotalCount: 1, BatchSize: 0},
		{Target: Target{URL: "http://x"}, TotalCount: 1, BatchSize: 1, Interval: -time.Second},
	}
	for i, job := range bad {
		if err := job.Validate(); !errors.Is(err, ErrInvalidJob) {
			t.Errorf("case %d: Validate() = %v, want ErrInvalidJob", i, err)
		}
	}
}
