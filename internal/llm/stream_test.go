package llm

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func TestEventStream_DeliversInOrderThenEOF(t *testing.T) {
	stream := newEventStream(context.Background(), func(ctx context.Context, events chan<- Event) error {
		events <- Event{Type: EventTextDelta, Text: "a"}
		events <- Event{Type: EventTextDelta, Text: "b"}
		events <- Event{Type: EventDone}
		return nil
	})
	defer stream.Close()

	var got []Event
	for {
		event, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Recv() error = %v", err)
		}
		got = append(got, event)
	}
	if len(got) != 3 || got[0].Text != "a" || got[1].Text != "b" || got[2].Type != EventDone {
		t.Errorf("events = %+v", got)
	}
}

func TestEventStream_ProduceErrorAfterEvents(t *testing.T) {
	wantErr := errors.New("mid-stream failure")
	stream := newEventStream(context.Background(), func(ctx context.Context, events chan<- Event) error {
		events <- Event{Type: EventTextDelta, Text: "partial"}
		return wantErr
	})
	defer stream.Close()

	event, err := stream.Recv()
	if err != nil || event.Text != "partial" {
		t.Fatalf("first Recv() = (%+v, %v)", event, err)
	}
	if _, err := stream.Recv(); !errors.Is(err, wantErr) {
		t.Fatalf("second Recv() err = %v, want %v", err, wantErr)
	}
}

func TestEventStream_CloseUnblocksProducer(t *testing.T) {
	produced := make(chan struct{})
	stream := newEventStream(context.Background(), func(ctx context.Context, events chan<- Event) error {
		defer close(produced)
		for i := 0; i < 1000; i++ {
			select {
			case events <- Event{Type: EventTextDelta, Text: "x"}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	if _, err := stream.Recv(); err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	stream.Close()

	select {
	case <-produced:
	case <-time.After(2 * time.Second):
		t.Fatal("producer still blocked after Close")
	}
}
