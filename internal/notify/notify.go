// Package notify publishes book state-change events (bootstrap
// success, gap, exhausted retries) onto a NATS JetStream stream for
// the out-of-scope analytics consumer. It is entirely optional:
// nothing in the reconstructor depends on it being wired up.
package notify

import (
	"encoding/json"
	"strings"
	"time"

	evbus "github.com/asaskevich/EventBus"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/BullionBear/depthkeeper/internal/config"
	"github.com/BullionBear/depthkeeper/internal/reconstructor"
)

// Notifier subscribes to a reconstructor's EventBus and republishes
// every state-change event onto a JetStream subject.
type Notifier struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	subject string
	log     zerolog.Logger
}

// Event is the payload published to the downstream subject.
type Event struct {
	Topic     string `json:"topic"`
	Symbol    string `json:"symbol"`
	Detail    string `json:"detail"`
	Timestamp int64  `json:"timestamp"`
}

// New connects to NATS, ensures the configured stream exists, and
// returns a Notifier ready to Attach to a reconstructor's bus.
func New(cfg config.NATSConfig, log zerolog.Logger) (*Notifier, error) {
	conn, err := nats.Connect(strings.Join(cfg.GetNATSURIs(), ","))
	if err != nil {
		return nil, err
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, err
	}

	if _, err := js.AddStream(&nats.StreamConfig{
		Name:      cfg.Stream,
		Subjects:  []string{cfg.Subject},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
	}); err != nil {
		conn.Close()
		return nil, err
	}

	return &Notifier{
		conn:    conn,
		js:      js,
		subject: cfg.Subject,
		log:     log.With().Str("component", "notify").Logger(),
	}, nil
}

// Attach subscribes to every state-change topic on bus and republishes
// each event onto the configured JetStream subject.
func (n *Notifier) Attach(bus evbus.Bus) {
	handler := func(topic string) func(symbol, detail string) {
		return func(symbol, detail string) {
			n.publish(topic, symbol, detail)
		}
	}
	_ = bus.SubscribeAsync(reconstructor.TopicBootstrapped, handler(reconstructor.TopicBootstrapped), false)
	_ = bus.SubscribeAsync(reconstructor.TopicGap, handler(reconstructor.TopicGap), false)
	_ = bus.SubscribeAsync(reconstructor.TopicExhausted, handler(reconstructor.TopicExhausted), false)
}

func (n *Notifier) publish(topic, symbol, detail string) {
	evt := Event{Topic: topic, Symbol: symbol, Detail: detail, Timestamp: time.Now().Unix()}
	data, err := json.Marshal(evt)
	if err != nil {
		n.log.Error().Err(err).Msg("failed to marshal notify event")
		return
	}
	if _, err := n.js.Publish(n.subject, data); err != nil {
		n.log.Warn().Err(err).Str("symbol", symbol).Msg("failed to publish notify event")
	}
}

// Close closes the underlying NATS connection.
func (n *Notifier) Close() {
	n.conn.Close()
}
