package pkg

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/appetiteclub/apt/events"
	"github.com/nats-io/nats.go"
)

// ConnectNATS dials the server with the reconnect policy shared by every
// kitchen publisher and subscriber.
func ConnectNATS(url, name string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return conn, nil
}

type NATSPublisher struct {
	conn *nats.Conn
}

func NewNATSPublisher(url string) (*NATSPublisher, error) {
	conn, err := ConnectNATS(url, "kds-publisher")
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{conn: conn}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, topic string, msg []byte) error {
	return p.conn.Publish(topic, msg)
}

func (p *NATSPublisher) Close() error {
	if err := p.conn.Flush(); err != nil {
		p.conn.Close()
		return fmt.Errorf("failed to flush NATS publisher: %w", err)
	}
	p.conn.Close()
	return nil
}

// NATSSubscriber delivers messages to handlers. When Queue is set every
// subscription joins that queue group so replicas share the load.
type NATSSubscriber struct {
	conn    *nats.Conn
	Queue   string
	OnError func(topic string, err error)

	mu   sync.Mutex
	subs []*nats.Subscription
}

func NewNATSSubscriber(url string) (*NATSSubscriber, error) {
	conn, err := ConnectNATS(url, "kds-subscriber")
	if err != nil {
		return nil, err
	}
	return &NATSSubscriber{conn: conn}, nil
}

func (s *NATSSubscriber) Subscribe(ctx context.Context, topic string, handler events.HandlerFunc) error {
	cb := func(msg *nats.Msg) {
		if err := handler(ctx, msg.Data); err != nil && s.OnError != nil {
			s.OnError(topic, err)
		}
	}

	var (
		sub *nats.Subscription
		err error
	)
	if s.Queue != "" {
		sub, err = s.conn.QueueSubscribe(topic, s.Queue, cb)
	} else {
		sub, err = s.conn.Subscribe(topic, cb)
	}
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()
	return nil
}

func (s *NATSSubscriber) Close() error {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Drain()
	}
	s.conn.Close()
	return nil
}
