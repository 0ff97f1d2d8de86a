package lifecycle

import (
	"go.uber.org/zap"
)

// LogNotifier is the default Notifier: outcomes land in the structured log
// instead of an outbound channel. Message formatting and delivery transports
// are a vendor concern.
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

func (n *LogNotifier) NotifySuccess(jobType, correlationID, summary string) {
	n.log.Infow("Lifecycle operation succeeded",
		"type", jobType,
		"correlation_id", correlationID,
		"summary", summary)
}

func (n *LogNotifier) NotifyFailure(jobType, correlationID, reason string) {
	n.log.Errorw("Lifecycle operation failed",
		"type", jobType,
		"correlation_id", correlationID,
		"reason", Redact(reason))
}
