package events

import "testing"

func TestEmitInvokesRegisteredCallbacks(t *testing.T) {
	t.Parallel()
	h := NewHandler(nil)

	var got map[string]any
	var boundSeen []any
	h.Register(JobComplete, func(bound []any, params map[string]any) {
		got = params
		boundSeen = bound
	}, "job-1")

	h.Emit(JobComplete, map[string]any{"status": "waiting"})

	if got["status"] != "waiting" {
		t.Fatalf("params = %v, want status=waiting", got)
	}
	if len(boundSeen) != 1 || boundSeen[0] != "job-1" {
		t.Fatalf("bound args = %v, want [job-1]", boundSeen)
	}
}

func TestEmitRecoversPanickingCallback(t *testing.T) {
	t.Parallel()
	h := NewHandler(nil)

	called := false
	h.Register(JobFailed, func(_ []any, _ map[string]any) {
		panic("boom")
	})
	h.Register(JobFailed, func(_ []any, _ map[string]any) {
		called = true
	})

	h.Emit(JobFailed, map[string]any{})

	if !called {
		t.Fatal("second callback was not invoked after first callback panicked")
	}
}

func TestDeregisterRemovesCallback(t *testing.T) {
	t.Parallel()
	h := NewHandler(nil)

	calls := 0
	cb := func(_ []any, _ map[string]any) { calls++ }
	h.Register(TaskFailed, cb)
	h.Deregister(TaskFailed, cb)

	h.Emit(TaskFailed, map[string]any{})

	if calls != 0 {
		t.Fatalf("calls = %d, want 0 after deregister", calls)
	}
}

func TestEmitUnknownEventIsNoop(t *testing.T) {
	t.Parallel()
	h := NewHandler(nil)
	h.Emit("nonexistent", map[string]any{"x": 1})
}
