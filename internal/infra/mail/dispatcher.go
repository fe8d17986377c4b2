package mail

import (
	"context"

	"go.uber.org/zap"

	"github.com/framehost/authcore/internal/core/port"
	"github.com/framehost/authcore/internal/infra/logger"
)

// LogDispatcher stands in for the external mail capability. Delivery is
// fire-and-forget at the product level, so the core only needs the boundary;
// this implementation records the dispatch without the token itself.
type LogDispatcher struct {
	logger *zap.Logger
}

// NewLogDispatcher constructs the logging mail dispatcher.
func NewLogDispatcher(log *zap.Logger) *LogDispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogDispatcher{logger: log}
}

// Send logs the dispatch. The token is masked; it must never land in logs.
func (d *LogDispatcher) Send(_ context.Context, to, templateID, token string) error {
	d.logger.Info("mail dispatched",
		zap.String("to", logger.MaskEmail(to)),
		zap.String("template_id", templateID),
		zap.String("token", logger.MaskToken(token)),
	)
	return nil
}

var _ port.Mailer = (*LogDispatcher)(nil)
