// Package audit provides security audit logging for SIEM consumption.
// It logs security-relevant events in structured JSON format for easy parsing
// and integration with security information and event management systems.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ekaya-inc/ekaya-nlsql/pkg/logging"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventSQLInjectionAttempt is logged when libinjection fingerprints the question as SQL.
	EventSQLInjectionAttempt SecurityEventType = "sql_injection_attempt"
	// EventForbiddenOperation is logged when the question asks for a schema or data change.
	EventForbiddenOperation SecurityEventType = "forbidden_operation"
	// EventUnsafeGeneratedSQL is logged when the model answers with something other than one SELECT.
	EventUnsafeGeneratedSQL SecurityEventType = "unsafe_generated_sql"
)

type clientIPKey struct{}

// WithClientIP returns a context carrying the caller's address.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIP returns the address stored by WithClientIP, or "".
func ClientIP(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

// SecurityEvent represents an auditable security event with all relevant context
// for SIEM ingestion and analysis.
type SecurityEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType SecurityEventType `json:"event_type"`
	RequestID string            `json:"request_id,omitempty"`
	ClientIP  string            `json:"client_ip,omitempty"`
	Details   any               `json:"details"`
	Severity  string            `json:"severity"` // info, warning, critical
}

// RejectionDetails describes a question refused before it reached the model.
type RejectionDetails struct {
	Question    string `json:"question"`
	Phrase      string `json:"phrase,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"` // libinjection fingerprint for pattern analysis
}

// GeneratedSQLDetails describes model output refused by the validator.
type GeneratedSQLDetails struct {
	Question string `json:"question"`
	Output   string `json:"output"`
	Reason   string `json:"reason"`
}

// SecurityAuditor logs security events for SIEM consumption.
// Events are logged in structured JSON format with appropriate severity levels.
type SecurityAuditor struct {
	logger *zap.Logger
}

// NewSecurityAuditor creates a new security auditor with a dedicated logger namespace.
// The logger is automatically configured with "security_audit" namespace for easy
// filtering in SIEM systems.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	return &SecurityAuditor{logger: logger.Named("security_audit")}
}

// LogRejection records a question refused by the forbidden-operation filter.
// Injection fingerprints are critical; phrase hits are usually honest requests
// for something the service does not allow and are logged as warnings.
func (a *SecurityAuditor) LogRejection(ctx context.Context, details RejectionDetails) {
	details.Question = logging.SanitizeUserText(details.Question)

	if details.Fingerprint != "" {
		a.log(ctx, zap.ErrorLevel, "SQL injection attempt detected", EventSQLInjectionAttempt, "critical", details,
			zap.String("fingerprint", details.Fingerprint))
		return
	}
	a.log(ctx, zap.WarnLevel, "Forbidden operation requested", EventForbiddenOperation, "warning", details,
		zap.String("phrase", details.Phrase))
}

// LogUnsafeGeneratedSQL records model output that was not a single SELECT.
// A refusal sentinel is expected behaviour and is not audited by callers.
func (a *SecurityAuditor) LogUnsafeGeneratedSQL(ctx context.Context, details GeneratedSQLDetails) {
	details.Question = logging.SanitizeUserText(details.Question)
	details.Output = logging.SanitizeQuery(details.Output)

	a.log(ctx, zap.WarnLevel, "Model produced unsafe SQL", EventUnsafeGeneratedSQL, "warning", details,
		zap.String("reason", details.Reason))
}

func (a *SecurityAuditor) log(
	ctx context.Context,
	level zapcore.Level,
	msg string,
	eventType SecurityEventType,
	severity string,
	details any,
	fields ...zap.Field,
) {
	event := SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		RequestID: logging.RequestID(ctx),
		ClientIP:  ClientIP(ctx),
		Details:   details,
		Severity:  severity,
	}

	// Ignoring error as marshaling known types should never fail
	eventJSON, _ := json.Marshal(event)

	fields = append(fields,
		zap.String("event_json", string(eventJSON)),
		zap.String("event_type", string(eventType)),
		zap.String("request_id", event.RequestID),
		zap.String("client_ip", event.ClientIP),
		zap.String("severity", severity),
	)
	a.logger.Log(level, msg, fields...)
}
