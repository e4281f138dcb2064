// Package audit records administrative actions in a dedicated log stream.
// Events are emitted as structured JSON so they can be shipped to a SIEM
// separately from request logs.
package audit

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-watch/pkg/middleware"
)

// EventType categorizes administrative events for filtering and alerting.
type EventType string

const (
	// EventEntityUpdated is logged when a tracked competitor is patched.
	EventEntityUpdated EventType = "entity_updated"
	// EventJurisdictionUpdated is logged when a jurisdiction is patched.
	EventJurisdictionUpdated EventType = "jurisdiction_updated"
	// EventScrapeTriggered is logged when an on-demand cycle starts.
	EventScrapeTriggered EventType = "scrape_triggered"
	// EventScrapeRejected is logged when a trigger arrives during a running cycle.
	EventScrapeRejected EventType = "scrape_rejected"
)

// Event is one auditable administrative action.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	EventType EventType `json:"event_type"`
	Target    string    `json:"target"`
	RequestID string    `json:"request_id,omitempty"`
	ClientIP  string    `json:"client_ip,omitempty"`
	Details   any       `json:"details,omitempty"`
}

// AdminAuditor logs administrative events. A nil *AdminAuditor is valid and
// records nothing.
type AdminAuditor struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewAdminAuditor creates an auditor logging under the "admin_audit" namespace.
func NewAdminAuditor(logger *zap.Logger) *AdminAuditor {
	return &AdminAuditor{
		logger: logger.Named("admin_audit"),
		now:    time.Now,
	}
}

// Record logs an event raised by the given request.
func (a *AdminAuditor) Record(r *http.Request, eventType EventType, target string, details any) {
	if a == nil {
		return
	}

	event := Event{
		Timestamp: a.now().UTC(),
		EventType: eventType,
		Target:    target,
		RequestID: middleware.RequestIDFromContext(r.Context()),
		ClientIP:  ClientIP(r),
		Details:   details,
	}

	// Marshaling known types cannot fail.
	eventJSON, _ := json.Marshal(event)

	fields := []zap.Field{
		zap.String("event_json", string(eventJSON)),
		zap.String("event_type", string(eventType)),
		zap.String("target", target),
		zap.String("client_ip", event.ClientIP),
	}
	if eventType == EventScrapeRejected {
		a.logger.Warn("Administrative action rejected", fields...)
		return
	}
	a.logger.Info("Administrative action", fields...)
}

// ClientIP returns the originating address of r. The first X-Forwarded-For
// hop wins over the socket address.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
