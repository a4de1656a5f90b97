package outreach

import (
	"context"

	"go.uber.org/zap"

	"github.com/brianellis1997/ErrandBoy-sub000/internal/model"
)

// LogNotifier records invitations to the log instead of delivering them.
// It stands in for a real SMS or websocket gateway in single-node and
// development deployments.
type LogNotifier struct {
	channel string
}

// NewLogNotifier creates a LogNotifier claiming the given channel.
func NewLogNotifier(channel string) *LogNotifier {
	return &LogNotifier{channel: channel}
}

func (n *LogNotifier) Channel() string {
	return n.channel
}

func (n *LogNotifier) Notify(_ context.Context, contact *model.Contact, query *model.Query) error {
	zap.L().Info("outreach: invitation",
		zap.String("channel", n.channel),
		zap.String("contact_id", contact.ID.String()),
		zap.String("phone", contact.PhoneNumber),
		zap.String("query_id", query.ID.String()),
		zap.String("question", query.QuestionText),
	)
	return nil
}
