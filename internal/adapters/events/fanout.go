package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/atvirokodosprendimai/keyledger/internal/core/domain"
	"github.com/atvirokodosprendimai/keyledger/internal/core/ports"
)

type namedPublisher struct {
	name string
	pub  ports.EventPublisher
}

// FanOut publishes each event to every sink. One failing sink fails the whole
// delivery, so the dispatcher retries it and healthy sinks may see the event
// again; consumers dedupe by event_id.
type FanOut struct {
	sinks []namedPublisher
}

func NewFanOut() *FanOut {
	return &FanOut{}
}

func (f *FanOut) Add(name string, pub ports.EventPublisher) *FanOut {
	f.sinks = append(f.sinks, namedPublisher{name: name, pub: pub})
	return f
}

func (f *FanOut) Len() int {
	return len(f.sinks)
}

func (f *FanOut) Publish(ctx context.Context, topic string, event domain.EventEnvelope) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.pub.Publish(ctx, topic, event); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}
