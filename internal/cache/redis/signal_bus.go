package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// defaultStreamMaxLen bounds the event log via XADD MAXLEN ~.
const defaultStreamMaxLen int64 = 10000

// payloadField is the stream entry field holding the event JSON.
const payloadField = "payload"

// SignalBus implements domain.SignalBus with Pub/Sub for live subscribers
// and a capped Stream as the replayable event log.
type SignalBus struct {
	rdb    *redis.Client
	maxLen int64
}

// NewSignalBus creates a SignalBus backed by c. maxLen <= 0 uses the
// default stream cap.
func NewSignalBus(c *Client, maxLen int64) *SignalBus {
	if maxLen <= 0 {
		maxLen = defaultStreamMaxLen
	}
	return &SignalBus{rdb: c.Underlying(), maxLen: maxLen}
}

// Broadcast pipelines PUBLISH and XADD so an event costs one round trip.
func (sb *SignalBus) Broadcast(ctx context.Context, channel, stream string, payload []byte) error {
	if channel == "" && stream == "" {
		return nil
	}
	cmds, err := sb.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		if channel != "" {
			p.Publish(ctx, channel, payload)
		}
		if stream != "" {
			p.XAdd(ctx, &redis.XAddArgs{
				Stream: stream,
				MaxLen: sb.maxLen,
				Approx: true,
				Values: map[string]any{payloadField: payload},
			})
		}
		return nil
	})
	if err != nil {
		var errs []error
		for _, c := range cmds {
			if c.Err() != nil {
				errs = append(errs, fmt.Errorf("redis: %s: %w", c.Name(), c.Err()))
			}
		}
		if len(errs) == 0 {
			errs = append(errs, fmt.Errorf("redis: broadcast: %w", err))
		}
		return errors.Join(errs...)
	}
	return nil
}

// Replay reads entries strictly after afterID ("" or "0" reads from the
// start). An unknown or empty stream yields no entries.
func (sb *SignalBus) Replay(ctx context.Context, stream, afterID string, count int) ([]domain.StreamMessage, error) {
	if afterID == "" {
		afterID = "0"
	}
	if count <= 0 {
		count = 100
	}
	// XRANGE with an exclusive start keeps this a non-blocking read.
	entries, err := sb.rdb.XRangeN(ctx, stream, "("+afterID, "+", int64(count)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: replay %s: %w", stream, err)
	}

	out := make([]domain.StreamMessage, 0, len(entries))
	for _, e := range entries {
		var data []byte
		switch v := e.Values[payloadField].(type) {
		case string:
			data = []byte(v)
		case []byte:
			data = v
		default:
			continue
		}
		out = append(out, domain.StreamMessage{ID: e.ID, Payload: data})
	}
	return out, nil
}

var _ domain.SignalBus = (*SignalBus)(nil)
