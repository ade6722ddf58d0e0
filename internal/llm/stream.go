package llm

import (
	"context"
	"io"
	"sync"
)

// eventStream adapts a producer goroutine to the Stream interface. Recv is
// single-consumer: once the events channel closes, the producer's error (if
// any) is surfaced, or io.EOF on normal completion.
type eventStream struct {
	events chan Event
	errCh  chan error
	cancel context.CancelFunc

	closeOnce sync.Once
	done      bool
	err       error
}

// newEventStream runs produce in a goroutine and returns a Stream over its
// events. produce must return after ctx is canceled; a nil return means the
// stream completed normally and Recv reports io.EOF once drained.
func newEventStream(ctx context.Context, produce func(ctx context.Context, events chan<- Event) error) Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &eventStream{
		events: make(chan Event, 16),
		errCh:  make(chan error, 1),
		cancel: cancel,
	}

	go func() {
		err := produce(ctx, s.events)
		s.errCh <- err
		close(s.events)
	}()

	return s
}

func (s *eventStream) Recv() (Event, error) {
	if s.done {
		return Event{}, s.err
	}
	event, ok := <-s.events
	if !ok {
		s.done = true
		s.err = <-s.errCh
		if s.err == nil {
			s.err = io.EOF
		}
		return Event{}, s.err
	}
	return event, nil
}

// Close cancels the producer and drains any buffered events so a producer
// blocked on a send can observe the cancellation and exit.
func (s *eventStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		go func() {
			for range s.events {
			}
		}()
	})
	return nil
}
