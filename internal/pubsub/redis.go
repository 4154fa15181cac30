package pubsub

import (
	"context"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

const subscriptionBuffer = 256

type RedisBus struct {
	rdb *redis.Client
	log *log.Logger
}

func NewRedisBus(rdb *redis.Client, logger *log.Logger) *RedisBus {
	return &RedisBus{
		rdb: rdb,
		log: logger,
	}
}

func (b *RedisBus) Publish(ctx context.Context, hubId int, payload []byte) error {
	return b.rdb.Publish(ctx, GroupName(hubId), payload).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, hubId int) (Subscription, error) {
	ps := b.rdb.Subscribe(ctx, GroupName(hubId))

	// Receive forces the SUBSCRIBE handshake so a failed subscription
	// surfaces here instead of as a silent empty stream.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, err
	}

	sub := &redisSubscription{
		ps:   ps,
		out:  make(chan []byte, subscriptionBuffer),
		done: make(chan struct{}),
	}

	go sub.pump(b.log)

	return sub, nil
}

type redisSubscription struct {
	ps        *redis.PubSub
	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (s *redisSubscription) pump(logger *log.Logger) {
	defer close(s.out)

	ch := s.ps.Channel()
	for msg := range ch {
		select {
		case s.out <- []byte(msg.Payload):
		case <-s.done:
			return
		}
	}

	if logger != nil {
		logger.Println("pubsub: subscription channel closed")
	}
}

func (s *redisSubscription) C() <-chan []byte {
	return s.out
}

func (s *redisSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
