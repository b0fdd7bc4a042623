package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/nsls2/srx-export/types"
)

// DefaultStopChannel is the default channel stop documents arrive on.
const DefaultStopChannel = "srx:stop_documents"

// Handler processes one stop document. Errors are reported through
// Subscriber.OnError and do not end the subscription.
type Handler func(ctx context.Context, stop *types.StopDoc) error

// Subscriber delivers stop documents published as JSON on a channel.
type Subscriber struct {
	client  *goredis.Client
	channel string

	// OnError is called for undecodable payloads and handler errors.
	OnError func(err error)
}

// NewSubscriber connects to url and subscribes to channel
// (DefaultStopChannel when empty) once Run is called.
func NewSubscriber(url, channel string) (*Subscriber, error) {
	client, err := newClient(url)
	if err != nil {
		return nil, err
	}
	if channel == "" {
		channel = DefaultStopChannel
	}
	return &Subscriber{client: client, channel: channel}, nil
}

// Channel returns the subscribed channel name.
func (s *Subscriber) Channel() string { return s.channel }

// Run subscribes and calls h for every stop document until ctx is done.
// Messages are handled sequentially; callers wanting concurrency dispatch
// to their own pool from h. ready, when non-nil, is closed once the
// subscription is confirmed.
func (s *Subscriber) Run(ctx context.Context, h Handler, ready chan<- struct{}) error {
	pubsub := s.client.Subscribe(ctx, s.channel)
	defer func() { _ = pubsub.Close() }()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis: subscribe %s: %w", s.channel, err)
	}
	if ready != nil {
		close(ready)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("redis: subscription closed")
			}
			stop, err := DecodeStop([]byte(msg.Payload))
			if err != nil {
				s.report(err)
				continue
			}
			if err := h(ctx, stop); err != nil {
				s.report(err)
			}
		}
	}
}

func (s *Subscriber) report(err error) {
	if s.OnError != nil {
		s.OnError(err)
	}
}

// DecodeStop parses a JSON stop document. run_start is required.
func DecodeStop(data []byte) (*types.StopDoc, error) {
	var stop types.StopDoc
	if err := json.Unmarshal(data, &stop); err != nil {
		return nil, fmt.Errorf("decode stop document: %w", err)
	}
	if stop.RunStart == "" {
		return nil, errors.New("decode stop document: run_start is required")
	}
	return &stop, nil
}

// Close releases the connection.
func (s *Subscriber) Close() error {
	return s.client.Close()
}
