package ring

import "testing"

func TestCoalescingQueuePutCoalescesSameKey(t *testing.T) {
	q := NewCoalescingQueue[string, int](4)
	q.Put("a", 1)
	q.Put("a", 2)
	q.Put("a", 3)

	got := q.Drain()
	if len(got) != 1 {
		t.Fatalf("expected 1 coalesced entry, got %d: %v", len(got), got)
	}
	if got[0] != 3 {
		t.Errorf("expected newest value 3 to win, got %d", got[0])
	}
}

func TestCoalescingQueueDrainOrderIsFIFO(t *testing.T) {
	q := NewCoalescingQueue[string, int](4)
	q.Put("a", 1)
	q.Put("b", 2)
	q.Put("c", 3)

	got := q.Drain()
	want := []int{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestCoalescingQueueEvictsOldestWhenFull(t *testing.T) {
	q := NewCoalescingQueue[string, int](2)
	q.Put("a", 1)
	q.Put("b", 2)
	q.Put("c", 3) // queue full at "a","b"; "a" is oldest and must be evicted

	got := q.Drain()
	if len(got) != 2 {
		t.Fatalf("expected 2 entries after eviction, got %d: %v", len(got), got)
	}
	if got[0] != 2 || got[1] != 3 {
		t.Errorf("expected [2 3] after evicting oldest, got %v", got)
	}
}

func TestCoalescingQueueDrainEmptiesQueue(t *testing.T) {
	q := NewCoalescingQueue[string, int](4)
	q.Put("a", 1)
	_ = q.Drain()

	got := q.Drain()
	if len(got) != 0 {
		t.Errorf("expected empty drain after queue emptied, got %v", got)
	}
}

func TestCoalescingQueueNotifySignalsOnPut(t *testing.T) {
	q := NewCoalescingQueue[string, int](4)
	select {
	case <-q.Notify():
		t.Fatal("notify fired before any Put")
	default:
	}

	q.Put("a", 1)
	select {
	case <-q.Notify():
	default:
		t.Fatal("expected notify to fire after Put")
	}
}

func TestCoalescingQueueCloseStopsAcceptingPuts(t *testing.T) {
	q := NewCoalescingQueue[string, int](4)
	q.Close()
	q.Put("a", 1)

	got := q.Drain()
	if len(got) != 0 {
		t.Errorf("expected Put after Close to be a no-op, got %v", got)
	}
}

func TestCoalescingQueueZeroCapacityClampsToOne(t *testing.T) {
	q := NewCoalescingQueue[string, int](0)
	q.Put("a", 1)
	q.Put("b", 2)

	got := q.Drain()
	if len(got) != 1 || got[0] != 2 {
		t.Errorf("expected capacity clamped to 1 keeping newest key, got %v", got)
	}
}
