package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/banshee-data/solar.report/internal/monitoring"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body ErrorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return body.Error
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, map[string]string{"job": "abc"})

	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %s", ct)
	}
	var got map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil || got["job"] != "abc" {
		t.Errorf("body = %v, %v", got, err)
	}

	rec = httptest.NewRecorder()
	WriteJSONOK(rec, []int{1})
	if rec.Code != http.StatusOK {
		t.Errorf("WriteJSONOK status = %d", rec.Code)
	}
}

func TestErrorHelpers(t *testing.T) {
	monitoring.SetLogger(nil)
	tests := []struct {
		name   string
		write  func(w http.ResponseWriter)
		status int
		msg    string
	}{
		{"bad request", func(w http.ResponseWriter) { BadRequest(w, "no id") }, http.StatusBadRequest, "no id"},
		{"not found", func(w http.ResponseWriter) { NotFound(w, "job missing") }, http.StatusNotFound, "job missing"},
		{"method", func(w http.ResponseWriter) { MethodNotAllowed(w, http.MethodGet) }, http.StatusMethodNotAllowed, "method not allowed"},
		{"internal", func(w http.ResponseWriter) { InternalServerError(w, errors.New("db locked")) }, http.StatusInternalServerError, "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if got := decodeError(t, rec); got != tt.msg {
				t.Errorf("error = %q, want %q", got, tt.msg)
			}
		})
	}

	rec := httptest.NewRecorder()
	MethodNotAllowed(rec, http.MethodGet, http.MethodHead)
	if allow := rec.Header().Values("Allow"); len(allow) != 2 {
		t.Errorf("Allow = %v", allow)
	}
}
