package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/medjbersoundous/backend-ramassage-packers/pkg/logger"
)

// EventPickupsChanged is the only event type; clients refetch on receipt.
const EventPickupsChanged = "pickupsChanged"

// Event is the payload published on the change channel.
type Event struct {
	Type   string    `json:"type"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// PubSub is the transport used to fan out change signals.
type PubSub interface {
	Publish(ctx context.Context, channel string, message string) error
	Subscribe(ctx context.Context, channel string) (<-chan string, func() error, error)
}

// Broadcaster tells connected clients that the pickup set changed.
type Broadcaster struct {
	bus     PubSub
	channel string
	logg    *logger.Logger
	now     func() time.Time
}

func New(bus PubSub, channel string, logg *logger.Logger) (*Broadcaster, error) {
	if bus == nil {
		return nil, fmt.Errorf("pubsub required")
	}
	if channel == "" {
		return nil, fmt.Errorf("channel required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Broadcaster{bus: bus, channel: channel, logg: logg, now: time.Now}, nil
}

// PickupsChanged publishes one change signal. Failures are logged only.
func (b *Broadcaster) PickupsChanged(ctx context.Context, reason string) {
	if b == nil {
		return
	}
	payload, err := json.Marshal(Event{Type: EventPickupsChanged, Reason: reason, At: b.now().UTC()})
	if err != nil {
		b.logg.Error(ctx, "encode change event", err)
		return
	}
	if err := b.bus.Publish(ctx, b.channel, string(payload)); err != nil {
		b.logg.Error(b.logg.WithField(ctx, "channel", b.channel), "publish change event failed", err)
	}
}

// Subscribe streams change events until ctx ends or the returned close func
// is called. Malformed payloads are dropped.
func (b *Broadcaster) Subscribe(ctx context.Context) (<-chan Event, func() error, error) {
	raw, closeFn, err := b.bus.Subscribe(ctx, b.channel)
	if err != nil {
		return nil, nil, err
	}
	out := make(chan Event)
	go func() {
		defer close(out)
		for msg := range raw {
			var evt Event
			if err := json.Unmarshal([]byte(msg), &evt); err != nil || evt.Type == "" {
				continue
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, closeFn, nil
}
