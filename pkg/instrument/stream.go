package instrument

import "sync"

// Stream is an explicit open/close lifecycle over a lazy sequence. Next
// returns the next item, or ok=false once the sequence is exhausted; Close
// abandons the rest. The producing side supplies next and close functions.
//
// A Stream is single-consumer: Next and Close must not be called from
// multiple goroutines at once. The producer function runs outside the
// stream's lock, so concurrent consumers would race on producer state.
type Stream struct {
	next    func() (any, bool, error)
	close   func() error
	mu      sync.Mutex
	closed  bool
	termErr error
	onItem  func(item any)
	onDone  func(err error)
	doneFin sync.Once
}

// NewStream builds a stream from the producer's next and close functions.
// closeFn may be nil.
func NewStream(next func() (any, bool, error), closeFn func() error) *Stream {
	return &Stream{next: next, close: closeFn}
}

// StreamOf returns a stream over a fixed item slice. Mostly useful in tests
// and for adapting eagerly produced sequences.
func StreamOf(items ...any) *Stream {
	i := 0
	return NewStream(func() (any, bool, error) {
		if i >= len(items) {
			return nil, false, nil
		}
		item := items[i]
		i++
		return item, true, nil
	}, nil)
}

// Next returns the next item. ok is false once the stream ends; a non-nil
// err ends the stream with that error. Calling Next after Close or after
// the end keeps returning the terminal state.
func (s *Stream) Next() (item any, ok bool, err error) {
	s.mu.Lock()
	if s.closed {
		err := s.termErr
		s.mu.Unlock()
		return nil, false, err
	}
	s.mu.Unlock()

	item, ok, err = s.next()
	if err != nil || !ok {
		s.finish(err)
		return item, ok, err
	}
	if s.onItem != nil {
		s.onItem(item)
	}
	return item, true, nil
}

// Close abandons the stream. The caller may stop iterating early; the
// stream is still finalized with whatever was consumed. Close is
// idempotent.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	s.finish(nil)
	if s.close != nil {
		return s.close()
	}
	return nil
}

// Collect drains the stream and returns every remaining item.
func (s *Stream) Collect() ([]any, error) {
	var items []any
	for {
		item, ok, err := s.Next()
		if err != nil {
			return items, err
		}
		if !ok {
			return items, nil
		}
		items = append(items, item)
	}
}

func (s *Stream) finish(err error) {
	s.mu.Lock()
	s.closed = true
	s.termErr = err
	s.mu.Unlock()
	s.doneFin.Do(func() {
		if s.onDone != nil {
			s.onDone(err)
		}
	})
}
