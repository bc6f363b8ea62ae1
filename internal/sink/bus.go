package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Bus publishes each event as JSON on a pub/sub channel and appends it to a
// durable stream. Either target may be empty to disable it.
type Bus struct {
	bus     domain.SignalBus
	channel string
	stream  string
}

// NewBus creates a Bus backend.
func NewBus(bus domain.SignalBus, channel, stream string) *Bus {
	return &Bus{bus: bus, channel: channel, stream: stream}
}

func (b *Bus) Name() string { return "bus" }

func (b *Bus) Write(ctx context.Context, ev domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("sink: marshal %s: %w", ev.Type, err)
	}
	return b.bus.Broadcast(ctx, b.channel, b.stream, payload)
}

var _ Backend = (*Bus)(nil)
