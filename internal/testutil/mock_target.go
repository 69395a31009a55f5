// Package testutil provides testing utilities for the batch dispatcher.
package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock target response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockTarget is a configurable mock remote endpoint for testing.
type MockTarget struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// Tracking
	RequestCount      int
	LastCookie        string
	LastMethod        string
	LastBody          string
	LastRequestHeader http.Header
	inFlight          int
	peakInFlight      int
}

// NewMockTarget creates a new mock target server.
func NewMockTarget() *MockTarget {
	mock := &MockTarget{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		mock.mu.Lock()
		mock.RequestCount++
		mock.LastCookie = r.Header.Get("Cookie")
		mock.LastMethod = r.Method
		mock.LastBody = string(body)
		mock.LastRequestHeader = r.Header.Clone()
		mock.inFlight++
		if mock.inFlight > mock.peakInFlight {
			mock.peakInFlight = mock.inFlight
		}
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		defer func() {
			mock.mu.Lock()
			mock.inFlight--
			mock.mu.Unlock()
		}()

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockTarget) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockTarget) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockTarget) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.LastCookie = ""
	m.LastMethod = ""
	m.LastBody = ""
	m.LastRequestHeader = nil
	m.peakInFlight = 0
}

// SetHandler sets a custom handler for a specific path.
func (m *MockTarget) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockTarget) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		writeMockResponse(w, resp)
	})
}

// SetSequence serves the given responses in order for a path; the last one
// repeats once the sequence is exhausted.
func (m *MockTarget) SetSequence(path string, responses ...MockResponse) {
	var mu sync.Mutex
	next := 0
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		resp := responses[min(next, len(responses)-1)]
		next++
		mu.Unlock()
		writeMockResponse(w, resp)
	})
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockTarget) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetLastCookie returns the Cookie header of the last request.
func (m *MockTarget) GetLastCookie() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastCookie
}

// GetLastBody returns the body of the last request.
func (m *MockTarget) GetLastBody() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastBody
}

// GetLastHeader returns a header of the last request.
func (m *MockTarget) GetLastHeader(key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastRequestHeader.Get(key)
}

// GetPeakInFlight returns the highest number of concurrently served requests.
func (m *MockTarget) GetPeakInFlight() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.peakInFlight
}

// defaultHandler accepts every call.
func (m *MockTarget) defaultHandler(w http.ResponseWriter, r *http.Request) {
	writeMockResponse(w, NewOKResponse())
}

func writeMockResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// NewOKResponse creates a standard 200 OK response with a healthy budget.
func NewOKResponse() MockResponse {
	return NewBudgetResponse(http.StatusOK, 100, 60)
}

// NewBudgetResponse creates a response advertising the given rate budget.
func NewBudgetResponse(status, remaining, resetSeconds int) MockResponse {
	return MockResponse{
		StatusCode: status,
		Body:       `{"success": true}`,
		Headers: map[string]string{
			"X-RateLimit-Remaining": strconv.Itoa(remaining),
			"X-RateLimit-Reset":     strconv.Itoa(resetSeconds),
			"Content-Type":          "application/json; charset=utf-8",
		},
	}
}

// NewForbiddenResponse creates a 403 Forbidden response.
func NewForbiddenResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusForbidden,
		Body:       `{"error": "invalid session"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewTooManyRequestsResponse creates a 429 Too Many Requests response.
func NewTooManyRequestsResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "Rate limit exceeded"}`,
		Headers: map[string]string{
			"X-RateLimit-Remaining": "0",
			"X-RateLimit-Reset":     "30",
			"Content-Type":          "application/json; charset=utf-8",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}
