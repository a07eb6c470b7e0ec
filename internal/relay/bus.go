package relay

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Bus is the external at-least-once pub/sub transport the relay publishes
// on. Implementations must support subject wildcards in Subscribe.
type Bus interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler func(subject string, data []byte)) (Unsubscribe, error)
	Close()
}

// Unsubscribe tears down a subscription.
type Unsubscribe func() error

// NATSBusConfig holds connection settings for the NATS-backed bus.
type NATSBusConfig struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
}

func DefaultNATSBusConfig() NATSBusConfig {
	return NATSBusConfig{
		URL:           nats.DefaultURL,
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// NATSBus implements Bus over core NATS subjects.
type NATSBus struct {
	nc *nats.Conn
}

func NewNATSBus(cfg NATSBusConfig) (*NATSBus, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NATSBus{nc: nc}, nil
}

func (b *NATSBus) Publish(subject string, data []byte) error {
	return b.nc.Publish(subject, data)
}

func (b *NATSBus) Subscribe(subject string, handler func(subject string, data []byte)) (Unsubscribe, error) {
	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}
	return sub.Unsubscribe, nil
}

func (b *NATSBus) Close() {
	if b.nc != nil {
		b.nc.Close()
	}
}

// MemoryBus is an in-process Bus used in tests and single-instance
// deployments without a message bus.
type MemoryBus struct {
	mu   sync.RWMutex
	subs []*memorySub
}

type memorySub struct {
	pattern string
	handler func(subject string, data []byte)
	active  bool
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

func (b *MemoryBus) Publish(subject string, data []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.active && subjectMatches(sub.pattern, subject) {
			sub.handler(subject, data)
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(subject string, handler func(subject string, data []byte)) (Unsubscribe, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &memorySub{pattern: subject, handler: handler, active: true}
	b.subs = append(b.subs, sub)
	return func() error {
		b.mu.Lock()
		defer b.mu.Unlock()
		sub.active = false
		return nil
	}, nil
}

func (b *MemoryBus) Close() {}

// subjectMatches implements NATS-style subject matching with the '*' and
// '>' wildcards.
func subjectMatches(pattern, subject string) bool {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")
	for i, tok := range pt {
		if tok == ">" {
			return true
		}
		if i >= len(st) {
			return false
		}
		if tok != "*" && tok != st[i] {
			return false
		}
	}
	return len(pt) == len(st)
}
