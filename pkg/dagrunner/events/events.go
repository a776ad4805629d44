// Package events implements the engine's lifecycle notification registry.
// Jobs emit job_complete, job_failed and task_failed; the handler fans each
// emission out to every callback registered for that event name.
package events

import (
	"log/slog"
	"reflect"
)

// Names of the events the engine emits. Consumers register callbacks
// against these exact strings.
const (
	JobComplete = "job_complete"
	JobFailed   = "job_failed"
	TaskFailed  = "task_failed"
)

// Callback is invoked on emit with its own bound arguments plus the
// emission's params, passed under the reserved "params" key.
type Callback func(boundArgs []any, params map[string]any)

type registration struct {
	cb   Callback
	args []any
}

// Handler is a registry of named hooks. Construct it with NewHandler; the
// zero value has no hook map or logger and is not usable.
type Handler struct {
	logger *slog.Logger
	hooks  map[string][]registration
}

// NewHandler returns a Handler that logs recovered callback errors through
// logger. A nil logger falls back to slog.Default().
func NewHandler(logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, hooks: make(map[string][]registration)}
}

// Register adds cb to the list of callbacks invoked on event, along with any
// bound args to be passed back to cb on every emission.
func (h *Handler) Register(event string, cb Callback, boundArgs ...any) {
	h.hooks[event] = append(h.hooks[event], registration{cb: cb, args: boundArgs})
}

// Deregister removes every registration of cb under event. Callbacks are
// matched by function pointer identity via reflect, since func values
// themselves are not comparable in Go.
func (h *Handler) Deregister(event string, cb Callback) {
	target := reflect.ValueOf(cb).Pointer()
	regs := h.hooks[event]
	out := regs[:0]
	for _, r := range regs {
		if reflect.ValueOf(r.cb).Pointer() != target {
			out = append(out, r)
		}
	}
	h.hooks[event] = out
}

// Emit invokes every callback registered for event with params. Exceptions
// (panics) inside a callback are recovered and logged; they never affect
// the emitter or other callbacks. Each callback receives its own shallow
// copy of params, so adding, replacing or deleting keys in a callback does
// not change params or what later callbacks see; nested values are shared.
func (h *Handler) Emit(event string, params map[string]any) {
	for _, reg := range h.hooks[event] {
		own := make(map[string]any, len(params))
		for k, v := range params {
			own[k] = v
		}
		h.invoke(event, reg, own)
	}
}

func (h *Handler) invoke(event string, reg registration, params map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("event callback panicked", "event", event, "panic", r)
		}
	}()
	reg.cb(reg.args, params)
}
