package gateway

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/rankstream/rankstream/internal/events"
	"github.com/rankstream/rankstream/internal/metrics"
	"github.com/rankstream/rankstream/internal/rooms"
)

// Sender queues an encoded message for a single connection.
type Sender interface {
	Send(connID string, data []byte) bool
}

// Forwarder publishes a broadcast for consumption by other instances.
type Forwarder interface {
	Forward(ctx context.Context, room string, evt events.ServerEvent) error
}

// Dispatcher fans events out to a room's local members and forwards them to
// the cross-instance relay. Delivery is fire-and-forget against the
// registry's membership at dispatch time; no per-recipient acknowledgement
// is tracked.
type Dispatcher struct {
	registry  *rooms.Registry
	sender    Sender
	forwarder Forwarder
	metrics   *metrics.Service
}

func NewDispatcher(registry *rooms.Registry, sender Sender, m *metrics.Service) *Dispatcher {
	return &Dispatcher{registry: registry, sender: sender, metrics: m}
}

// SetForwarder attaches the cross-instance relay. Without one, broadcasts
// stay process-local.
func (d *Dispatcher) SetForwarder(f Forwarder) {
	d.forwarder = f
}

// Broadcast delivers the event to the room's local members and hands it to
// the relay. Local delivery does not depend on the bus: a relay error is
// returned to the caller after local members have already been served.
func (d *Dispatcher) Broadcast(ctx context.Context, room string, evt events.ServerEvent) error {
	d.DeliverLocal(room, evt)
	if d.forwarder == nil {
		return nil
	}
	return d.forwarder.Forward(ctx, room, evt)
}

// DeliverLocal sends the event to every connection in the room on this
// process and returns the number of deliveries attempted. It is also the
// re-emission path the relay uses for envelopes from other instances.
func (d *Dispatcher) DeliverLocal(room string, evt events.ServerEvent) int {
	data, err := json.Marshal(evt)
	if err != nil {
		log.Error().Err(err).Str("room", room).Msg("failed to marshal event for broadcast")
		return 0
	}

	members := d.registry.MembersOf(room)
	for _, connID := range members {
		d.sender.Send(connID, data)
	}

	if d.metrics != nil {
		d.metrics.BroadcastsTotal.WithLabelValues(string(evt.Type)).Inc()
	}
	log.Debug().
		Str("event_type", string(evt.Type)).
		Str("room", room).
		Int("connections", len(members)).
		Msg("event broadcast")
	return len(members)
}

// Reply sends an event directly to one connection, the request/response
// path for client-initiated operations, distinct from room broadcast.
func (d *Dispatcher) Reply(connID string, evt events.ServerEvent) bool {
	data, err := json.Marshal(evt)
	if err != nil {
		log.Error().Err(err).Str("connection_id", connID).Msg("failed to marshal reply")
		return false
	}
	return d.sender.Send(connID, data)
}
