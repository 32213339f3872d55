package browser

import (
	"fmt"
	"strings"
	"sync"
)

// ActivityKind identifies a user-activity channel.
type ActivityKind int

const (
	ActivityPointerMove ActivityKind = iota + 1
	ActivityKeyPress
	ActivityPointerPress
	ActivityScroll
	ActivityTouchStart
	ActivityNavigation
)

var activityNames = map[ActivityKind]string{
	ActivityPointerMove:  "mousemove",
	ActivityKeyPress:     "keydown",
	ActivityPointerPress: "mousedown",
	ActivityScroll:       "scroll",
	ActivityTouchStart:   "touchstart",
	ActivityNavigation:   "navigate",
}

func (k ActivityKind) String() string {
	if name, ok := activityNames[k]; ok {
		return name
	}
	return fmt.Sprintf("activity(%d)", int(k))
}

// ParseActivityKind maps DOM-style event names to an ActivityKind.
func ParseActivityKind(s string) (ActivityKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mousemove", "pointermove":
		return ActivityPointerMove, nil
	case "keydown", "keypress":
		return ActivityKeyPress, nil
	case "mousedown", "pointerdown":
		return ActivityPointerPress, nil
	case "scroll":
		return ActivityScroll, nil
	case "touchstart":
		return ActivityTouchStart, nil
	case "navigate", "popstate", "pushstate", "replacestate":
		return ActivityNavigation, nil
	default:
		return 0, fmt.Errorf("unknown activity: %q", s)
	}
}

// Activity is one user-activity signal.
//
// Target is the scrolled element for scroll events, written as a
// slash-separated element path ("app/main/list"), and the new path for
// navigation events. Other kinds leave it empty.
type Activity struct {
	Kind   ActivityKind
	Target string
}

// ActivitySource delivers activity to subscribers.
type ActivitySource interface {
	// Subscribe registers fn and returns a function that removes it.
	Subscribe(fn func(Activity)) (unsubscribe func())
}

// Events is a synchronous fan-out ActivitySource. The host calls Emit from
// its event handlers and route-change hooks.
type Events struct {
	mu        sync.RWMutex
	listeners map[int]func(Activity)
	nextID    int
}

var _ ActivitySource = (*Events)(nil)

// NewEvents creates an empty activity bus.
func NewEvents() *Events {
	return &Events{listeners: make(map[int]func(Activity))}
}

// Subscribe registers fn. The returned function is idempotent.
func (e *Events) Subscribe(fn func(Activity)) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = fn
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.listeners, id)
			e.mu.Unlock()
		})
	}
}

// Emit delivers a to every current listener.
func (e *Events) Emit(a Activity) {
	e.mu.RLock()
	fns := make([]func(Activity), 0, len(e.listeners))
	for _, fn := range e.listeners {
		fns = append(fns, fn)
	}
	e.mu.RUnlock()

	for _, fn := range fns {
		fn(a)
	}
}

// ListenerCount reports how many listeners are registered.
func (e *Events) ListenerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners)
}
