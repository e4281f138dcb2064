package audit

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ekaya-inc/ekaya-watch/pkg/middleware"
)

func newObservedAuditor() (*AdminAuditor, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	a := NewAdminAuditor(zap.New(core))
	a.now = func() time.Time { return time.Date(2024, 3, 24, 12, 0, 0, 0, time.UTC) }
	return a, logs
}

func TestAdminAuditor_Record(t *testing.T) {
	a, logs := newObservedAuditor()

	r := httptest.NewRequest("PATCH", "/api/jurisdictions/austin_tx", nil)
	r.RemoteAddr = "10.0.0.7:51234"
	r = r.WithContext(middleware.WithRequestID(r.Context(), "req-1"))

	a.Record(r, EventJurisdictionUpdated, "austin_tx", map[string]any{"active": false})

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "admin_audit", entries[0].LoggerName)

	fields := entries[0].ContextMap()
	assert.Equal(t, "jurisdiction_updated", fields["event_type"])
	assert.Equal(t, "10.0.0.7", fields["client_ip"])

	var event Event
	require.NoError(t, json.Unmarshal([]byte(fields["event_json"].(string)), &event))
	assert.Equal(t, EventJurisdictionUpdated, event.EventType)
	assert.Equal(t, "austin_tx", event.Target)
	assert.Equal(t, "req-1", event.RequestID)
	assert.Equal(t, time.Date(2024, 3, 24, 12, 0, 0, 0, time.UTC), event.Timestamp)
}

func TestAdminAuditor_RejectedLogsAtWarn(t *testing.T) {
	a, logs := newObservedAuditor()

	a.Record(httptest.NewRequest("POST", "/api/scrape", nil), EventScrapeRejected, "cycle", nil)

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, zapcore.WarnLevel, logs.All()[0].Level)
}

func TestAdminAuditor_NilIsNoop(t *testing.T) {
	var a *AdminAuditor
	assert.NotPanics(t, func() {
		a.Record(httptest.NewRequest("POST", "/api/scrape", nil), EventScrapeTriggered, "cycle", nil)
	})
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		want       string
	}{
		{"socket address", "192.0.2.1:1234", "", "192.0.2.1"},
		{"forwarded first hop", "10.0.0.1:1234", "203.0.113.9, 10.0.0.1", "203.0.113.9"},
		{"no port", "192.0.2.1", "", "192.0.2.1"},
		{"blank forwarded", "192.0.2.1:1234", " ", "192.0.2.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			assert.Equal(t, tt.want, ClientIP(r))
		})
	}
}
