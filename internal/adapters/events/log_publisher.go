package events

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/atvirokodosprendimai/keyledger/internal/core/domain"
)

// LogPublisher writes every event to the log. It is the fallback sink when
// no webhook or broker is configured.
type LogPublisher struct {
	log logrus.FieldLogger
}

func NewLogPublisher(log logrus.FieldLogger) *LogPublisher {
	return &LogPublisher{log: log.WithField("component", "publisher")}
}

func (p *LogPublisher) Publish(_ context.Context, topic string, event domain.EventEnvelope) error {
	p.log.WithFields(logrus.Fields{
		"topic":        topic,
		"event_id":     event.EventID,
		"event_type":   event.EventType,
		"organization": event.Organization,
		"aggregate":    event.AggregateType + "/" + event.AggregateID,
		"version":      event.AggregateVersion,
	}).Info("outbox publish")
	return nil
}
