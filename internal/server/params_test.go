package server

import (
	"net/http"
	"testing"

	"github.com/wesm/breaktime/internal/timeutil"
)

func TestPathID(t *testing.T) {
	tests := []struct {
		name       string
		value      string
		wantVal    int64
		wantOK     bool
		wantStatus int
	}{
		{"positive", "42", 42, true, http.StatusOK},
		{"negative group chat", "-1001234567890", -1001234567890, true, http.StatusOK},
		{"empty", "", 0, false, http.StatusBadRequest},
		{"non-numeric", "abc", 0, false, http.StatusBadRequest},
		{"float", "3.5", 0, false, http.StatusBadRequest},
		{"overflow", "99999999999999999999", 0, false, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, r := newTestContext(t, "")
			r.SetPathValue("chat", tt.value)

			val, ok := pathID(w, r, "chat")
			if ok != tt.wantOK {
				t.Errorf("ok = %v, want %v", ok, tt.wantOK)
			}
			if val != tt.wantVal {
				t.Errorf("val = %d, want %d", val, tt.wantVal)
			}
			if w.Code != tt.wantStatus {
				t.Errorf(
					"status = %d, want %d", w.Code, tt.wantStatus,
				)
			}
		})
	}
}

func TestRangeParam(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		want       string
		wantOK     bool
		wantStatus int
	}{
		{"absent defaults to today", "", timeutil.Today, true, http.StatusOK},
		{"explicit", "range=last_week", timeutil.LastWeek, true, http.StatusOK},
		{"unknown", "range=fortnight", "", false, http.StatusBadRequest},
		{"wrong case", "range=Today", "", false, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, r := newTestContext(t, tt.query)

			got, ok := rangeParam(w, r)
			if ok != tt.wantOK {
				t.Errorf("ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("range = %q, want %q", got, tt.want)
			}
			if w.Code != tt.wantStatus {
				t.Errorf(
					"status = %d, want %d", w.Code, tt.wantStatus,
				)
			}
		})
	}
}
