package ir

import "context"

// Producer yields the next Value from an async source, returning
// (Value{}, false, nil) at end of stream. It is invoked only while the
// stream's buffer is empty, so drivers never get asked for more than the
// consumer actually needs (pull-based backpressure).
type Producer interface {
	Next(ctx context.Context) (Value, bool, error)
}

// ProducerFunc adapts a plain function to Producer.
type ProducerFunc func(ctx context.Context) (Value, bool, error)

func (f ProducerFunc) Next(ctx context.Context) (Value, bool, error) { return f(ctx) }

// Stream is a (buffer, optional async producer) pair producing values in
// sequence. It supports a single buffered peek slot, which keeps callers
// synchronous outside of the one point where they actually need a driver
// round trip.
type Stream struct {
	buffer   []Value
	pos      int
	producer Producer
	peeked   *Value
	done     bool
}

// NewStream wraps an already-materialized slice (e.g. a Const
// operation's literal values).
func NewStream(values []Value) *Stream {
	return &Stream{buffer: values, done: true}
}

// NewLazyStream wraps an async producer; values are pulled on demand.
func NewLazyStream(producer Producer) *Stream {
	return &Stream{producer: producer}
}

// Next advances the stream and returns its next value, or ok=false at
// end of stream.
func (s *Stream) Next(ctx context.Context) (Value, bool, error) {
	if s.peeked != nil {
		v := *s.peeked
		s.peeked = nil
		return v, true, nil
	}
	if s.pos < len(s.buffer) {
		v := s.buffer[s.pos]
		s.pos++
		return v, true, nil
	}
	if s.done || s.producer == nil {
		return Value{}, false, nil
	}
	v, ok, err := s.producer.Next(ctx)
	if err != nil {
		return Value{}, false, err
	}
	if !ok {
		s.done = true
		return Value{}, false, nil
	}
	return v, true, nil
}

// Peek buffers exactly one lookahead value without consuming it.
func (s *Stream) Peek(ctx context.Context) (Value, bool, error) {
	if s.peeked != nil {
		return *s.peeked, true, nil
	}
	v, ok, err := s.Next(ctx)
	if err != nil || !ok {
		return v, ok, err
	}
	s.peeked = &v
	return v, true, nil
}

// Collect drains the stream into a slice. Used where the executor or a
// driver response needs the whole result materialized (e.g. NestedMerge
// inputs, which must be fully buffered before projection per 4.4).
func (s *Stream) Collect(ctx context.Context) ([]Value, error) {
	var out []Value
	for {
		v, ok, err := s.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, v)
	}
}

// Dup fully buffers the stream and returns a fresh Stream over the same
// materialized values, so a multi-use variable can be consumed more than
// once without re-invoking the driver.
func (s *Stream) Dup(ctx context.Context) (*Stream, error) {
	values, err := s.Collect(ctx)
	if err != nil {
		return nil, err
	}
	s.buffer = values
	s.pos = 0
	s.done = true
	s.producer = nil
	return NewStream(append([]Value(nil), values...)), nil
}

// SizeHint reports a lower/upper bound on remaining items when known
// without consuming the stream; upper is -1 when unbounded (a live
// producer).
func (s *Stream) SizeHint() (lower int, upper int) {
	remaining := len(s.buffer) - s.pos
	if s.peeked != nil {
		remaining++
	}
	if s.producer == nil || s.done {
		return remaining, remaining
	}
	return remaining, -1
}
