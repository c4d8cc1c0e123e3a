// Package broadcast fans derived updates out to subscribers.
//
// Hub is the in-process topic fan-out read by the WebSocket push server.
// Publisher implementations relay the same updates to external brokers.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"openclaw-indexer/internal/domain"
)

// Broadcaster is a topic-scoped fan-out. Publish never blocks on a slow subscriber.
type Broadcaster interface {
	Publish(topic string, payload []byte)
	Subscribe(topic string) *Subscription
	Unsubscribe(sub *Subscription)
}

// Publisher receives every derived update produced by the materializer.
type Publisher interface {
	PublishUpdate(ctx context.Context, u domain.Update) error
}

// Encode serializes u with its "type" field populated.
func Encode(u domain.Update) ([]byte, error) {
	var v any
	switch m := u.(type) {
	case domain.NewTokenUpdate:
		m.Type = m.UpdateType()
		v = m
	case domain.TradeUpdate:
		m.Type = m.UpdateType()
		v = m
	case domain.PriceUpdate:
		m.Type = m.UpdateType()
		v = m
	case domain.MigrationUpdate:
		m.Type = m.UpdateType()
		v = m
	default:
		return nil, fmt.Errorf("unknown update type %T", u)
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s update: %w", u.UpdateType(), err)
	}
	return payload, nil
}

// Envelope is the routing header shared by every serialized update.
type Envelope struct {
	Type string `json:"type"`
	Mint string `json:"mint"`
}

// Topic resolves the broadcast topic of a serialized update.
func (e Envelope) Topic() (string, error) {
	switch e.Type {
	case domain.UpdateNewToken:
		return domain.TopicNewTokens, nil
	case domain.UpdateTrade, domain.UpdatePrice, domain.UpdateMigrated:
		if e.Mint == "" {
			return "", fmt.Errorf("%s update without mint", e.Type)
		}
		return domain.TokenTopic(e.Mint), nil
	default:
		return "", fmt.Errorf("unknown update type %q", e.Type)
	}
}

// DecodeEnvelope reads the routing header of payload.
func DecodeEnvelope(payload []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(payload, &e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return e, nil
}

// Multi publishes to every publisher in order and joins their errors.
type Multi []Publisher

// PublishUpdate implements Publisher.
func (m Multi) PublishUpdate(ctx context.Context, u domain.Update) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishUpdate(ctx, u); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every update.
type Discard struct{}

// PublishUpdate implements Publisher.
func (Discard) PublishUpdate(context.Context, domain.Update) error { return nil }

var (
	_ Publisher = Multi(nil)
	_ Publisher = Discard{}
)
