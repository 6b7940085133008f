package notify

import (
	"go.uber.org/zap"
)

// Priority classifies outbound notifications.
type Priority string

const (
	PriorityInfo     Priority = "info"
	PriorityWarning  Priority = "warning"
	PriorityCritical Priority = "critical"
)

// Notifier delivers best-effort operator notifications. Implementations
// report success with the returned bool and must never panic or block the
// caller on delivery problems.
type Notifier interface {
	Notify(message string, priority Priority) bool
}

// LogNotifier writes notifications to the application log. It always
// succeeds, which makes it the safe default sink.
type LogNotifier struct {
	log *zap.SugaredLogger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(log *zap.SugaredLogger) *LogNotifier {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(message string, priority Priority) bool {
	switch priority {
	case PriorityCritical:
		n.log.Errorw("notification", "priority", priority, "message", message)
	case PriorityWarning:
		n.log.Warnw("notification", "priority", priority, "message", message)
	default:
		n.log.Infow("notification", "priority", priority, "message", message)
	}
	return true
}

// Multi fans a notification out to several sinks and succeeds when at least
// one of them does.
type Multi []Notifier

func (m Multi) Notify(message string, priority Priority) bool {
	ok := false
	for _, n := range m {
		if n == nil {
			continue
		}
		if n.Notify(message, priority) {
			ok = true
		}
	}
	return ok
}
