// Package relay forwards hub events between server instances over Redis pub/sub.
package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/agora-server/internal/core"
	"github.com/vovakirdan/agora-server/internal/metrics"
	"github.com/vovakirdan/agora-server/internal/utils"
)

// Envelope is the payload published on the relay channel.
type Envelope struct {
	Origin  string         `json:"origin"`
	Exclude core.SessionID `json:"exclude,omitempty"`
	Event   *core.Event    `json:"event"`
}

// Deliverer receives events that originated on another instance.
type Deliverer interface {
	DeliverRemote(ev *core.Event, exclude core.SessionID)
}

// Relay publishes local events and delivers remote ones.
type Relay struct {
	client     redis.UniversalClient
	channel    string
	instanceID string
	target     Deliverer
	log        zerolog.Logger
	metrics    *metrics.Metrics
}

var _ core.Publisher = (*Relay)(nil)

// New creates a relay on the given pub/sub channel.
func New(client redis.UniversalClient, channel string, target Deliverer, logger *zerolog.Logger, m *metrics.Metrics) *Relay {
	log := zerolog.Nop()
	if logger != nil {
		log = *logger
	}
	id := utils.NewID()
	return &Relay{
		client:     client,
		channel:    channel,
		instanceID: id,
		target:     target,
		log:        log.With().Str("component", "relay").Str("instance_id", id).Logger(),
		metrics:    m,
	}
}

// InstanceID identifies this process in published envelopes.
func (r *Relay) InstanceID() string {
	return r.instanceID
}

// Publish sends ev to the other instances.
func (r *Relay) Publish(ctx context.Context, ev *core.Event, exclude core.SessionID) error {
	data, err := r.encode(ev, exclude)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", r.channel, err)
	}
	r.metrics.Relayed("out")
	return nil
}

// Run subscribes to the relay channel and delivers remote events until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.log.Info().Str("channel", r.channel).Msg("relay subscribed")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle([]byte(msg.Payload))
		}
	}
}

func (r *Relay) encode(ev *core.Event, exclude core.SessionID) ([]byte, error) {
	data, err := json.Marshal(Envelope{Origin: r.instanceID, Exclude: exclude, Event: ev})
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// handle delivers one received envelope. Envelopes from this instance are dropped.
func (r *Relay) handle(payload []byte) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		r.log.Warn().Err(err).Msg("drop malformed envelope")
		return
	}
	if env.Origin == r.instanceID || env.Event == nil {
		return
	}
	r.metrics.Relayed("in")
	r.target.DeliverRemote(env.Event, env.Exclude)
}
