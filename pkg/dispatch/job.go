package dispatch

import (
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultMaxTotalCount is the ceiling applied to TotalCount before planning.
	DefaultMaxTotalCount = 2_000_000

	// DefaultBatchSize is used when a request does not specify a batch size.
	DefaultBatchSize = 100

	// DefaultMaxBatchSize caps the number of concurrent calls per batch.
	DefaultMaxBatchSize = 1000

	// MaxIntervalSeconds is the largest interval that fits a time.Duration.
	MaxIntervalSeconds = math.MaxInt64 / int64(time.Second)
)

// DefaultBody is sent when a Target carries no payload of its own.
var DefaultBody = []byte(`{"someData":"value"}`)

// Credential is a single key/value pair of the credential set.
type Credential struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// CredentialHeader joins the credential set into a single header value.
// Format: key1=value1; key2=value2 (list order is preserved).
func CredentialHeader(creds []Credential) string {
	parts := make([]string, 0, len(creds))
	for _, c := range creds {
		parts = append(parts, c.Key+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

// Target describes the remote call a job repeats.
type Target struct {
	URL    string `json:"url"`
	Method string `json:"method,omitempty"`
	Body   []byte `json:"body,omitempty"`
}

// RequestMethod returns the HTTP method, defaulting to POST.
func (t Target) RequestMethod() string {
	if t.Method == "" {
		return http.MethodPost
	}
	return t.Method
}

// Payload returns the request body, defaulting to DefaultBody.
func (t Target) Payload() []byte {
	if t.Body == nil {
		return DefaultBody
	}
	return t.Body
}

// Job is an immutable description of work.
type Job struct {
	// ID identifies the job in logs, metrics and the progress store (optional).
	ID string

	Target      Target
	Credentials []Credential

	// TotalCount is the number of calls to issue.
	TotalCount int

	// BatchSize is the maximum number of concurrent calls per batch.
	BatchSize int

	// Interval is the pacing delay between consecutive batches.
	Interval time.Duration
}

// Header returns the call-scoped credential header for this job.
func (j Job) Header() string {
	return CredentialHeader(j.Credentials)
}

// Validate checks the job invariants.
func (j Job) Validate() error {
	if j.Target.URL == "" {
		return invalid("target", "is required")
	}
	if j.TotalCount <= 0 {
		return invalid("totalCount", "must be positive")
	}
	if j.BatchSize <= 0 {
		return invalid("batchSize", "must be positive")
	}
	if j.Interval < 0 {
		return invalid("interval", "must not be negative")
	}
	return nil
}

// Limits are deployment-wide bounds applied to every job.
type Limits struct {
	MaxTotalCount    int
	DefaultBatchSize int
	MaxBatchSize     int
}

// DefaultLimits returns the stock deployment limits.
func DefaultLimits() Limits {
	return Limits{
		MaxTotalCount:    DefaultMaxTotalCount,
		DefaultBatchSize: DefaultBatchSize,
		MaxBatchSize:     DefaultMaxBatchSize,
	}
}

// Apply defaults the batch size and clamps the batch size and total count.
// Zero limit fields fall back to the defaults.
func (l Limits) Apply(job Job) Job {
	if l.MaxTotalCount <= 0 {
		l.MaxTotalCount = DefaultMaxTotalCount
	}
	if l.DefaultBatchSize <= 0 {
		l.DefaultBatchSize = DefaultBatchSize
	}
	if l.MaxBatchSize <= 0 {
		l.MaxBatchSize = DefaultMaxBatchSize
	}

	if job.BatchSize == 0 {
		job.BatchSize = l.DefaultBatchSize
	}
	job.BatchSize = min(job.BatchSize, l.MaxBatchSize)
	job.TotalCount = min(job.TotalCount, l.MaxTotalCount)
	return job
}

// ShareRequest is the inbound job submission.
type ShareRequest struct {
	Cookies   []Credential `json:"cookies"`
	PostURL   string       `json:"postUrl"`
	Amounts   int          `json:"amounts"`
	Interval  *int         `json:"interval"`
	BatchSize int          `json:"batchSize,omitempty"`
}

// Job validates the request and converts it into a clamped Job.
func (r ShareRequest) Job(limits Limits) (Job, error) {
	if len(r.Cookies) == 0 {
		return Job{}, invalid("cookies", "is required")
	}
	for _, c := range r.Cookies {
		if c.Key == "" {
			return Job{}, invalid("cookies", "contains an empty key")
		}
	}

	if r.PostURL == "" {
		return Job{}, invalid("postUrl", "is required")
	}
	u, err := url.Parse(r.PostURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Job{}, invalid("postUrl", "must be an absolute http(s) URL")
	}

	if r.Amounts <= 0 {
		return Job{}, invalid("amounts", "must be positive")
	}
	if r.Interval == nil {
		return Job{}, invalid("interval", "is required")
	}
	if *r.Interval < 0 {
		return Job{}, invalid("interval", "must not be negative")
	}
	if int64(*r.Interval) > MaxIntervalSeconds {
		return Job{}, invalid("interval", fmt.Sprintf("must not exceed %d seconds", MaxIntervalSeconds))
	}
	if r.BatchSize < 0 {
		return Job{}, invalid("batchSize", "must not be negative")
	}

	job := limits.Apply(Job{
		Target:      Target{URL: r.PostURL},
		Credentials: append([]Credential(nil), r.Cookies...),
		TotalCount:  r.Amounts,
		BatchSize:   r.BatchSize,
		Interval:    time.Duration(*r.Interval) * time.Second,
	})
	return job, job.Validate()
}
