package worker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue()
	for _, id := range []string{"a", "b", "a"} {
		q.Push(id)
	}
	if q.Len() != 3 {
		t.Fatalf("expected 3 items, got %d", q.Len())
	}
	for _, want := range []string{"a", "b", "a"} {
		got, err := q.Pop(context.Background())
		if err != nil {
			t.Fatalf("pop: %v", err)
		}
		if got != want {
			t.Fatalf("expected %q, got %q", want, got)
		}
	}
}

func TestQueuePopWaitsForPush(t *testing.T) {
	q := NewQueue()
	got := make(chan string, 1)
	go func() {
		id, _ := q.Pop(context.Background())
		got <- id
	}()

	select {
	case id := <-got:
		t.Fatalf("pop returned %q before push", id)
	case <-time.After(20 * time.Millisecond):
	}
	q.Push("Highguard")
	select {
	case id := <-got:
		if id != "Highguard" {
			t.Fatalf("unexpected id %q", id)
		}
	case <-time.After(time.Second):
		t.Fatal("pop did not wake up")
	}
}

func TestQueuePopHonoursContext(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := q.Pop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
