// Package notify delivers operational alerts raised by the scheduler
// and dispatch pipeline to whoever operates the system. The engine
// wires a Notifier in; hosts bring their own channel (e-mail, chat
// webhook) or keep the log-backed default.
package notify

import (
	"context"
	"log/slog"
)

// Severity classifies a notification.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Notifier receives operational alerts. Implementations must be safe
// for concurrent use and should not block for long; the caller does not
// retry failed notifications.
type Notifier interface {
	Notify(ctx context.Context, severity Severity, title, detail string, fields map[string]any) error
}

// Func adapts a plain function to the Notifier interface.
type Func func(ctx context.Context, severity Severity, title, detail string, fields map[string]any) error

func (f Func) Notify(ctx context.Context, severity Severity, title, detail string, fields map[string]any) error {
	return f(ctx, severity, title, detail, fields)
}

// LogNotifier writes notifications to a structured logger. It is the
// default when the host wires no channel of its own.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log-backed notifier. A nil logger uses
// slog.Default.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, severity Severity, title, detail string, fields map[string]any) error {
	attrs := make([]any, 0, 2*len(fields)+2)
	attrs = append(attrs, slog.String("title", title))
	if detail != "" {
		attrs = append(attrs, slog.String("detail", detail))
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}

	switch severity {
	case SeverityWarning:
		n.logger.WarnContext(ctx, "notification", attrs...)
	case SeverityError, SeverityCritical:
		n.logger.ErrorContext(ctx, "notification", attrs...)
	default:
		n.logger.InfoContext(ctx, "notification", attrs...)
	}
	return nil
}

// Noop discards all notifications.
type Noop struct{}

func (Noop) Notify(context.Context, Severity, string, string, map[string]any) error {
	return nil
}
