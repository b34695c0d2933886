package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/wesm/breaktime/internal/config"
	"github.com/wesm/breaktime/internal/db"
)

// testServer creates a Server for internal tests with the given
// write timeout. It registers cleanup of the database via
// t.Cleanup.
func testServer(
	t *testing.T, writeTimeout time.Duration, opts ...Option,
) *Server {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	database, err := db.Open(dbPath)
	if err != nil {
		t.Fatalf("opening db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg := config.Config{
		Host:         "127.0.0.1",
		Port:         0,
		DataDir:      dir,
		DBPath:       dbPath,
		Timezone:     "UTC",
		WriteTimeout: writeTimeout,
		Activities:   config.DefaultActivities(),
		RangeLabels:  config.DefaultRangeLabels(),
	}
	return New(cfg, database, opts...)
}

// assertTimeoutResponse checks that the response is a 503 with
// a JSON body containing "request timed out" and the correct
// Content-Type header.
func assertTimeoutResponse(
	t *testing.T, resp *http.Response,
) {
	t.Helper()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf(
			"status = %d, want %d",
			resp.StatusCode, http.StatusServiceUnavailable,
		)
	}
	body, _ := io.ReadAll(resp.Body)
	var je jsonError
	if err := json.Unmarshal(body, &je); err != nil {
		t.Fatalf(
			"body is not valid JSON: %v (body=%q)",
			err, string(body),
		)
	}
	if je.Error != "request timed out" {
		t.Errorf(
			"error = %q, want %q",
			je.Error, "request timed out",
		)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf(
			"Content-Type = %q, want %q",
			ct, "application/json",
		)
	}
}

// isTimeoutResponse returns true when the response is a 503
// JSON timeout. Use this for negative assertions where a route
// should NOT produce a timeout.
func isTimeoutResponse(
	t *testing.T, resp *http.Response,
) bool {
	t.Helper()
	if resp.StatusCode != http.StatusServiceUnavailable {
		return false
	}
	body, _ := io.ReadAll(resp.Body)
	var je jsonError
	if json.Unmarshal(body, &je) != nil {
		return false
	}
	return je.Error == "request timed out"
}

// newTestContext returns a recorder and request for lightweight
// handler tests. Pass an empty query for no query string.
func newTestContext(
	t *testing.T, query string,
) (*httptest.ResponseRecorder, *http.Request) {
	t.Helper()
	target := "/test"
	if query != "" {
		target += "?" + query
	}
	return httptest.NewRecorder(),
		httptest.NewRequest(http.MethodGet, target, nil)
}

// assertRecorderStatus checks that the recorder has the
// expected HTTP status code.
func assertRecorderStatus(
	t *testing.T, w *httptest.ResponseRecorder, code int,
) {
	t.Helper()
	if w.Code != code {
		t.Fatalf(
			"expected status %d, got %d: %s",
			code, w.Code, w.Body.String(),
		)
	}
}
