// Package httputil holds the HTTP client seam used for outbound API calls
// and the JSON response helpers used by the status server.
package httputil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// maxErrorBody caps how much of a failed response is kept in a StatusError.
const maxErrorBody = 4 << 10

// maxJSONBody caps decoded response bodies.
const maxJSONBody = 16 << 20

// HTTPClient is satisfied by *http.Client, StandardClient and
// MockHTTPClient.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// StandardClient wraps *http.Client to implement HTTPClient.
type StandardClient struct {
	*http.Client
}

// NewStandardClient wraps c, or http.DefaultClient when c is nil.
func NewStandardClient(c *http.Client) *StandardClient {
	if c == nil {
		c = http.DefaultClient
	}
	return &StandardClient{Client: c}
}

// StatusError is a response outside the 2xx range.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("status %d", e.Status)
	}
	return fmt.Sprintf("status %d: %s", e.Status, e.Body)
}

// CheckStatus returns a *StatusError carrying the start of the body when
// resp is not 2xx. The body is consumed in that case.
func CheckStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}

// DecodeJSON decodes the body of resp into v.
func DecodeJSON(resp *http.Response, v any) error {
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJSONBody)).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// MockResponse is a canned reply for MockHTTPClient.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    http.Header
	Error      error
}

// MockHTTPClient replays queued responses in order and records every
// request it sees. Once the queue is drained it answers 200 with an empty
// body.
type MockHTTPClient struct {
	mu       sync.Mutex
	requests []*http.Request
	queue    []MockResponse

	// DoFunc, when set, answers every request instead of the queue.
	DoFunc func(req *http.Request) (*http.Response, error)
	// DefaultError, when set, fails every request.
	DefaultError error
}

// NewMockHTTPClient returns an empty mock.
func NewMockHTTPClient() *MockHTTPClient {
	return &MockHTTPClient{}
}

// AddResponse queues a reply.
func (m *MockHTTPClient) AddResponse(status int, body string) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, MockResponse{StatusCode: status, Body: body, Headers: make(http.Header)})
	return m
}

// AddJSONResponse queues v encoded as JSON.
func (m *MockHTTPClient) AddJSONResponse(status int, v any) *MockHTTPClient {
	b, err := json.Marshal(v)
	if err != nil {
		return m.AddErrorResponse(err)
	}
	m.AddResponse(status, string(b))
	m.mu.Lock()
	m.queue[len(m.queue)-1].Headers.Set("Content-Type", "application/json")
	m.mu.Unlock()
	return m
}

// AddErrorResponse queues a transport failure.
func (m *MockHTTPClient) AddErrorResponse(err error) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, MockResponse{Error: err})
	return m
}

// Do records req and returns the next reply.
func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	doFunc, defaultErr := m.DoFunc, m.DefaultError
	var next *MockResponse
	if doFunc == nil && defaultErr == nil && len(m.queue) > 0 {
		next = &m.queue[0]
		m.queue = m.queue[1:]
	}
	m.mu.Unlock()

	switch {
	case doFunc != nil:
		return doFunc(req)
	case defaultErr != nil:
		return nil, defaultErr
	case next == nil:
		next = &MockResponse{StatusCode: http.StatusOK, Headers: make(http.Header)}
	case next.Error != nil:
		return nil, next.Error
	}
	return &http.Response{
		StatusCode: next.StatusCode,
		Status:     fmt.Sprintf("%d %s", next.StatusCode, http.StatusText(next.StatusCode)),
		Body:       io.NopCloser(bytes.NewBufferString(next.Body)),
		Header:     next.Headers,
		Request:    req,
	}, nil
}

// GetRequest returns the nth recorded request, or nil.
func (m *MockHTTPClient) GetRequest(n int) *http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < 0 || n >= len(m.requests) {
		return nil
	}
	return m.requests[n]
}

// RequestCount returns the number of recorded requests.
func (m *MockHTTPClient) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Pending returns the number of queued replies not yet served.
func (m *MockHTTPClient) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Reset clears recorded requests, queued replies and overrides.
func (m *MockHTTPClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.queue = nil
	m.DoFunc = nil
	m.DefaultError = nil
}
