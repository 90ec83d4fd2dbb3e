package events

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/tuyendl123/ComfyUI/internal/interfaces"
	"github.com/tuyendl123/ComfyUI/internal/models"
	"github.com/tuyendl123/ComfyUI/internal/services/sessions"
	"golang.org/x/time/rate"
)

var _ interfaces.EventPublisher = (*Broadcaster)(nil)

// queuedEvent is one message awaiting fan-out. Exactly one of data (JSON
// envelope) or frame (binary) is set.
type queuedEvent struct {
	eventType string
	data      any
	frame     []byte
	preview   bool
	clientID  string // empty = broadcast
}

// Broadcaster serializes event delivery through a single dispatch
// goroutine, so events reach each session in publish order regardless of
// which goroutine produced them.
type Broadcaster struct {
	registry *sessions.Registry
	logger   arbor.ILogger
	queue    chan queuedEvent

	queueRemaining func() int
	previewLimiter *rate.Limiter
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithPreviewThrottle rate-limits binary preview frames to one per interval.
// Frames over the limit are dropped; previews are disposable. JSON events
// are never throttled.
func WithPreviewThrottle(interval time.Duration) Option {
	return func(b *Broadcaster) {
		if interval > 0 {
			b.previewLimiter = rate.NewLimiter(rate.Every(interval), 1)
		}
	}
}

func NewBroadcaster(registry *sessions.Registry, logger arbor.ILogger, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		registry: registry,
		logger:   logger,
		queue:    make(chan queuedEvent, 256),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetQueueInfo wires the queue-depth source used by QueueUpdated. Must be
// called before the first status event.
func (b *Broadcaster) SetQueueInfo(remaining func() int) {
	b.queueRemaining = remaining
}

// Run drains the event queue until ctx is cancelled. Exactly one Run must
// be active; it is the only goroutine that touches sessions for delivery.
func (b *Broadcaster) Run(ctx context.Context) {
	b.logger.Debug().Msg("Event dispatch loop started")
	for {
		select {
		case <-ctx.Done():
			b.logger.Debug().Msg("Event dispatch loop stopped")
			return
		case ev := <-b.queue:
			b.dispatch(ev)
		}
	}
}

func (b *Broadcaster) dispatch(ev queuedEvent) {
	if ev.frame != nil {
		if ev.preview && b.previewLimiter != nil && !b.previewLimiter.Allow() {
			return
		}
		if ev.clientID == "" {
			b.registry.BroadcastBinary(ev.frame)
		} else {
			b.registry.SendBinary(ev.clientID, ev.frame)
		}
		return
	}
	if ev.clientID == "" {
		b.registry.BroadcastJSON(ev.eventType, ev.data)
	} else {
		b.registry.SendJSON(ev.clientID, ev.eventType, ev.data)
	}
}

// Publish enqueues a JSON event for one session (non-empty clientID) or all
// sessions. Safe from any goroutine; delivery follows publish order.
func (b *Broadcaster) Publish(eventType string, data any, clientID string) {
	b.queue <- queuedEvent{eventType: eventType, data: data, clientID: clientID}
}

// PublishBinary enqueues a tagged binary frame. The wire frame is the
// 4-byte big-endian tag followed by the payload.
func (b *Broadcaster) PublishBinary(tag uint32, payload []byte, clientID string) {
	if tag == 0 {
		panic(fmt.Sprintf("binary event tag must be positive, got %d", tag))
	}
	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame[:4], tag)
	copy(frame[4:], payload)
	b.queue <- queuedEvent{
		frame:    frame,
		preview:  tag == models.BinaryPreviewImage || tag == models.BinaryUnencodedPreviewImage,
		clientID: clientID,
	}
}

// QueueUpdated broadcasts the current queue status to every session.
func (b *Broadcaster) QueueUpdated() {
	remaining := 0
	if b.queueRemaining != nil {
		remaining = b.queueRemaining()
	}
	b.Publish(models.EventStatus, models.StatusPayload(remaining, ""), "")
}
