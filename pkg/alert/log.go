package alert

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogNotifier writes alerts to the structured log. Default when no
// broker is configured; log-based alerting is still an operator-visible
// channel, never a silent drop.
type LogNotifier struct {
	logger *logrus.Logger
}

func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, a Alert) error {
	n.logger.WithFields(logrus.Fields{
		"kind":            a.Kind,
		"conversation_id": a.ConversationID,
		"comment_id":      a.CommentID,
		"event_id":        a.EventID,
		"detail":          a.Detail,
	}).Warn("Operator alert")
	return nil
}
