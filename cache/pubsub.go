package cache

import (
	"context"
	"sync"

	pr "github.com/unkn0wn-root/listingsync/provider"
)

// Publish returns the number of receivers, 0 on failure.
func (s *store[V]) Publish(ctx context.Context, channel string, v V) int64 {
	if !s.queueReady("publish", channel) {
		return 0
	}
	raw, err := s.codec.Encode(v)
	if err != nil {
		s.fail("encode", channel, err)
		return 0
	}
	n, err := s.queue.Publish(ctx, channel, raw)
	if err != nil {
		s.fail("publish", channel, err)
		return 0
	}
	return n
}

func (s *store[V]) Subscribe(ctx context.Context, channel string) (*Subscription[V], bool) {
	if !s.queueReady("subscribe", channel) {
		return nil, false
	}
	raw, err := s.queue.Subscribe(ctx, channel)
	if err != nil {
		s.fail("subscribe", channel, err)
		return nil, false
	}

	sub := &Subscription[V]{
		raw:     raw,
		out:     make(chan V, 16),
		done:    make(chan struct{}),
		channel: channel,
		decode:  s.codec.Decode,
		onError: s.fail,
	}
	go sub.pump()
	return sub, true
}

// Subscription delivers decoded messages until Close.
// Messages that fail to decode are logged and skipped.
type Subscription[V any] struct {
	raw     pr.Subscription
	out     chan V
	done    chan struct{}
	once    sync.Once
	channel string
	decode  func([]byte) (V, error)
	onError func(op, key string, err error)
}

func (s *Subscription[V]) Messages() <-chan V { return s.out }

func (s *Subscription[V]) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.raw.Close()
	})
	return err
}

func (s *Subscription[V]) pump() {
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		case b, ok := <-s.raw.Messages():
			if !ok {
				return
			}
			v, err := s.decode(b)
			if err != nil {
				s.onError("decode", s.channel, err)
				continue
			}
			select {
			case s.out <- v:
			case <-s.done:
				return
			}
		}
	}
}
