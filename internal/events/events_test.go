package events

import "testing"

func TestEmitReachesAllListeners(t *testing.T) {
	e := NewEmitter()

	var a, b []Event
	e.Subscribe(func(ev Event) { a = append(a, ev) })
	e.Subscribe(func(ev Event) { b = append(b, ev) })

	e.Emit(Event{Type: TaskStart, TaskID: "task_1", Model: "sonnet"})

	if len(a) != 1 || len(b) != 1 {
		t.Fatalf("deliveries: a=%d b=%d, want 1 each", len(a), len(b))
	}
	if a[0].Type != TaskStart || a[0].TaskID != "task_1" || a[0].Model != "sonnet" {
		t.Errorf("event fields lost: %+v", a[0])
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	e := NewEmitter()

	var got []Event
	unsub := e.Subscribe(func(ev Event) { got = append(got, ev) })

	e.Emit(Event{Type: ExecutorStarted})
	unsub()
	e.Emit(Event{Type: ExecutorStopped})

	if len(got) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(got))
	}
	if got[0].Type != ExecutorStarted {
		t.Errorf("type = %s, want started", got[0].Type)
	}

	// Second unsubscribe is a no-op.
	unsub()
	e.Emit(Event{Type: ExecutorStarted})
	if len(got) != 1 {
		t.Errorf("deliveries after double unsubscribe = %d, want 1", len(got))
	}
}

func TestListenerMayUnsubscribeDuringEmit(t *testing.T) {
	e := NewEmitter()

	calls := 0
	var unsub func()
	unsub = e.Subscribe(func(ev Event) {
		calls++
		unsub()
	})

	e.Emit(Event{Type: ExecutorPaused})
	e.Emit(Event{Type: ExecutorResumed})

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
