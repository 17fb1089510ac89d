// Package broadcast republishes core events on an in-process watermill
// pub/sub topic so presentation layers can follow a running foreman.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/ShayCichocki/foreman/internal/events"
	"github.com/ShayCichocki/foreman/internal/logging"
)

// Topic carries every core event.
const Topic = "foreman.events"

// Metadata keys set on every message.
const (
	MetadataEventType = "event_type"
	MetadataWorkerID  = "worker_id"
)

const outputBuffer = 256

// Broadcaster publishes events to Topic and hands out decoded subscriptions.
type Broadcaster struct {
	pubsub *gochannel.GoChannel
	logger *slog.Logger
}

// New creates a Broadcaster backed by a non-persistent go channel pub/sub.
// Publish waits for subscribers to ack so events arrive in order.
func New(logger *slog.Logger) *Broadcaster {
	logger = logging.OrDiscard(logger, "broadcast")
	return &Broadcaster{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer:            outputBuffer,
				Persistent:                     false,
				BlockPublishUntilSubscriberAck: true,
			},
			watermill.NewSlogLogger(logger),
		),
		logger: logger,
	}
}

// Publish encodes e as JSON and publishes it. Events published with no
// subscriber are discarded.
func (b *Broadcaster) Publish(e events.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(MetadataEventType, string(e.Type))
	if e.WorkerID != "" {
		msg.Metadata.Set(MetadataWorkerID, e.WorkerID)
	}
	if err := b.pubsub.Publish(Topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	return nil
}

// Emit implements events.Emitter. Publish failures are logged.
func (b *Broadcaster) Emit(e events.Event) {
	if err := b.Publish(e); err != nil {
		b.logger.Warn("failed to broadcast event", "type", e.Type, "error", err)
	}
}

// Forward publishes every event from src until src closes or ctx ends.
func (b *Broadcaster) Forward(ctx context.Context, src <-chan events.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-src:
			if !ok {
				return nil
			}
			b.Emit(e)
		}
	}
}

// Subscribe returns decoded events published after the call. The channel
// closes when ctx ends or the Broadcaster is closed. Undecodable messages
// are logged and dropped.
func (b *Broadcaster) Subscribe(ctx context.Context) (<-chan events.Event, error) {
	messages, err := b.pubsub.Subscribe(ctx, Topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", Topic, err)
	}

	out := make(chan events.Event, outputBuffer)
	go func() {
		defer close(out)
		for msg := range messages {
			var e events.Event
			if err := json.Unmarshal(msg.Payload, &e); err != nil {
				b.logger.Warn("dropping undecodable event", "message", msg.UUID, "error", err)
				msg.Ack()
				continue
			}
			msg.Ack()
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close shuts the pub/sub down and closes every subscription.
func (b *Broadcaster) Close() error {
	return b.pubsub.Close()
}
