package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/rankstream/rankstream/internal/events"
	"github.com/rankstream/rankstream/internal/metrics"
)

// Envelope is the wire form of a relayed broadcast. Origin identifies the
// publishing instance so subscribers can skip envelopes they themselves
// produced: the origin delivers locally at publish time, the bus round-trip
// serves only the other instances, and each logical event reaches each
// connection exactly once.
type Envelope struct {
	Origin    string             `json:"origin"`
	Channel   string             `json:"channel"`
	Event     events.ServerEvent `json:"event"`
	Timestamp time.Time          `json:"timestamp"`
}

// LocalDeliverer is the dispatcher's local-delivery path, invoked for
// envelopes received from other instances.
type LocalDeliverer interface {
	DeliverLocal(room string, evt events.ServerEvent) int
}

// Config holds relay settings. PublishRetries counts attempts after the
// first; exhausting them surfaces the bus error to the publish caller while
// local delivery, which does not depend on the bus, is unaffected.
type Config struct {
	SubjectPrefix  string
	PublishRetries int
	RetryBackoff   time.Duration
}

func DefaultConfig() Config {
	return Config{
		SubjectPrefix:  "rankstream",
		PublishRetries: 3,
		RetryBackoff:   100 * time.Millisecond,
	}
}

// Relay bridges room broadcasts across independently running server
// processes via the message bus.
type Relay struct {
	bus     Bus
	local   LocalDeliverer
	config  Config
	origin  string
	clock   clockwork.Clock
	metrics *metrics.Service
	unsub   Unsubscribe
}

func New(bus Bus, local LocalDeliverer, cfg Config, clock clockwork.Clock, m *metrics.Service) *Relay {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultConfig().SubjectPrefix
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Relay{
		bus:     bus,
		local:   local,
		config:  cfg,
		origin:  uuid.New().String(),
		clock:   clock,
		metrics: m,
	}
}

// Origin returns this instance's identifier as stamped into envelopes.
func (r *Relay) Origin() string { return r.origin }

// Start subscribes to the relay subjects and begins re-emitting foreign
// envelopes through the local dispatcher.
func (r *Relay) Start() error {
	pattern := r.config.SubjectPrefix + ".room.>"
	unsub, err := r.bus.Subscribe(pattern, r.receive)
	if err != nil {
		return fmt.Errorf("subscribe relay subjects: %w", err)
	}
	r.unsub = unsub
	log.Info().Str("pattern", pattern).Str("origin", r.origin).Msg("relay subscribed")
	return nil
}

// Stop tears down the relay subscription.
func (r *Relay) Stop() error {
	if r.unsub != nil {
		return r.unsub()
	}
	return nil
}

// Forward publishes a room broadcast on the bus for other instances.
// Transport failures are retried a bounded number of times with backoff;
// exhausting retries returns the error to the caller that triggered the
// publish.
func (r *Relay) Forward(ctx context.Context, room string, evt events.ServerEvent) error {
	env := Envelope{
		Origin:    r.origin,
		Channel:   room,
		Event:     evt,
		Timestamp: r.clock.Now(),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return events.ErrNotSerializable
	}

	subject := r.subjectFor(room)
	attempts := r.config.PublishRetries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if lastErr = r.bus.Publish(subject, data); lastErr == nil {
			if r.metrics != nil {
				r.metrics.RelayPublishesTotal.Inc()
			}
			return nil
		}
		if attempt < attempts {
			if r.metrics != nil {
				r.metrics.RelayRetriesTotal.Inc()
			}
			log.Warn().
				Err(lastErr).
				Str("subject", subject).
				Int("attempt", attempt).
				Msg("bus publish failed, retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.config.RetryBackoff):
			}
		}
	}

	if r.metrics != nil {
		r.metrics.RelayPublishFailures.Inc()
	}
	return fmt.Errorf("publish to bus after %d attempts: %w", attempts, lastErr)
}

// receive handles an envelope from the bus. Envelopes this instance
// originated are skipped; their recipients were already served at publish
// time.
func (r *Relay) receive(subject string, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("failed to decode relay envelope")
		return
	}
	if env.Origin == r.origin {
		return
	}
	delivered := r.local.DeliverLocal(env.Channel, env.Event)
	log.Debug().
		Str("channel", env.Channel).
		Str("origin", env.Origin).
		Int("delivered", delivered).
		Msg("relayed envelope delivered locally")
}

// subjectFor derives a bus subject from a room name. Room names may contain
// characters that are token separators or wildcards in subjects; those are
// rewritten. The authoritative room name travels inside the envelope.
func (r *Relay) subjectFor(room string) string {
	sanitized := strings.NewReplacer(".", "-", "*", "-", ">", "-", " ", "-").Replace(room)
	return r.config.SubjectPrefix + ".room." + sanitized
}
