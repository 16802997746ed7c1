package cache

import (
	"context"
)

func (s *store[V]) ListPush(ctx context.Context, list string, v V, side Side) int64 {
	if !s.queueReady("list_push", list) {
		return 0
	}
	raw, err := s.codec.Encode(v)
	if err != nil {
		s.fail("encode", list, err)
		return 0
	}

	var n int64
	if side == Right {
		n, err = s.queue.RPush(ctx, list, raw)
	} else {
		n, err = s.queue.LPush(ctx, list, raw)
	}
	if err != nil {
		s.fail("list_push", list, err)
		return 0
	}
	return n
}

// ListPopPush moves the tail of src to the head of dst (reliable-queue hand-off).
func (s *store[V]) ListPopPush(ctx context.Context, src, dst string) (V, bool) {
	var zero V
	if !s.queueReady("list_pop_push", src) {
		return zero, false
	}
	raw, ok, err := s.queue.RPopLPush(ctx, src, dst)
	if err != nil {
		s.fail("list_pop_push", src, err)
		return zero, false
	}
	if !ok {
		return zero, false
	}
	v, err := s.codec.Decode(raw)
	if err != nil {
		// the element already moved to dst; the caller only loses the typed view
		s.fail("decode", dst, err)
		return zero, false
	}
	return v, true
}

func (s *store[V]) ListTrim(ctx context.Context, list string, start, stop int64) bool {
	if !s.queueReady("list_trim", list) {
		return false
	}
	if err := s.queue.LTrim(ctx, list, start, stop); err != nil {
		s.fail("list_trim", list, err)
		return false
	}
	return true
}

func (s *store[V]) ListRemove(ctx context.Context, list string, count int64, v V) int64 {
	if !s.queueReady("list_remove", list) {
		return 0
	}
	raw, err := s.codec.Encode(v)
	if err != nil {
		s.fail("encode", list, err)
		return 0
	}
	n, err := s.queue.LRem(ctx, list, count, raw)
	if err != nil {
		s.fail("list_remove", list, err)
		return 0
	}
	return n
}

func (s *store[V]) ListLength(ctx context.Context, list string) int64 {
	if !s.queueReady("list_length", list) {
		return 0
	}
	n, err := s.queue.LLen(ctx, list)
	if err != nil {
		s.fail("list_length", list, err)
		return 0
	}
	return n
}

func (s *store[V]) queueReady(op, name string) bool {
	if !s.enabled {
		return false
	}
	if s.queue == nil {
		s.fail(op, name, ErrNoQueue)
		return false
	}
	return true
}
