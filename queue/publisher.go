// Package queue announces changed listings to downstream consumers:
// a durable hand-off list (LPUSH, newest first) and a live notification channel.
package queue

import (
	"context"
	"errors"

	"github.com/unkn0wn-root/listingsync/cache"
	"github.com/unkn0wn-root/listingsync/hooks"
	"github.com/unkn0wn-root/listingsync/logger"
)

const (
	DefaultList    = "listings_queue"
	DefaultChannel = "listings"
)

var ErrPush = errors.New("queue: list push failed")

// Sink is the part of cache.Store the publisher needs.
type Sink[V any] interface {
	ListPush(ctx context.Context, list string, v V, side cache.Side) int64
	Publish(ctx context.Context, channel string, v V) int64
}

type Options[V any] struct {
	List     string // "" => DefaultList
	Channel  string // "" => DefaultChannel
	Logger   logger.Logger
	Hooks    hooks.Hooks
	Describe func(V) logger.Fields // optional log fields for a value
}

// Publisher is fire-and-forget: each stage is attempted once, failures are
// logged and reported to Hooks, nothing is retried or rolled back.
type Publisher[V any] struct {
	sink     Sink[V]
	list     string
	channel  string
	log      logger.Logger
	hooks    hooks.Hooks
	describe func(V) logger.Fields
}

func New[V any](sink Sink[V], opts Options[V]) *Publisher[V] {
	p := &Publisher[V]{
		sink:     sink,
		list:     opts.List,
		channel:  opts.Channel,
		log:      logger.OrNop(opts.Logger),
		hooks:    hooks.OrNop(opts.Hooks),
		describe: opts.Describe,
	}
	if p.list == "" {
		p.list = DefaultList
	}
	if p.channel == "" {
		p.channel = DefaultChannel
	}
	return p
}

func (p *Publisher[V]) List() string    { return p.list }
func (p *Publisher[V]) Channel() string { return p.channel }

// PushAndPublish enqueues v on the list, then publishes it on the channel.
// A failed push does not stop the publish.
func (p *Publisher[V]) PushAndPublish(ctx context.Context, v V) {
	f := p.fields(v)

	if n := p.sink.ListPush(ctx, p.list, v, cache.Left); n > 0 {
		p.log.Info("listing queued", f.With("list", p.list, "length", n))
	} else {
		p.hooks.PublishFailed("push", ErrPush)
		p.log.Error("listing not queued", f.With("list", p.list))
	}

	// zero receivers is a valid outcome; transport failures surface as cache errors
	n := p.sink.Publish(ctx, p.channel, v)
	p.log.Info("listing published", f.With("channel", p.channel, "receivers", n))
}

func (p *Publisher[V]) fields(v V) logger.Fields {
	if p.describe == nil {
		return logger.Fields{}
	}
	return p.describe(v)
}
