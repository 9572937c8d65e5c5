package services

import (
	"sync"

	"github.com/roach88/restcore/internal/ir"
)

// LiveQueryEvent describes a committed save.
type LiveQueryEvent struct {
	ClassName string
	Object    ir.Object
	Original  ir.Object
}

// LiveQuery tracks which classes have live subscriptions and fans committed
// saves out to its subscribers.
type LiveQuery struct {
	mu          sync.RWMutex
	classes     map[string]bool
	subscribers []func(LiveQueryEvent)
}

// NewLiveQuery returns a LiveQuery publishing saves of classNames.
func NewLiveQuery(classNames ...string) *LiveQuery {
	l := &LiveQuery{classes: make(map[string]bool)}
	for _, c := range classNames {
		l.classes[c] = true
	}
	return l
}

// Subscribe registers fn to receive events.
func (l *LiveQuery) Subscribe(fn func(LiveQueryEvent)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subscribers = append(l.subscribers, fn)
}

// HasLiveQuery reports whether saves of className are published.
func (l *LiveQuery) HasLiveQuery(className string) bool {
	if l == nil {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.classes[className]
}

// OnAfterSave publishes a committed save. Subscribers receive copies.
func (l *LiveQuery) OnAfterSave(ev LiveQueryEvent) {
	if !l.HasLiveQuery(ev.ClassName) {
		return
	}
	l.mu.RLock()
	subs := append(([]func(LiveQueryEvent))(nil), l.subscribers...)
	l.mu.RUnlock()
	for _, fn := range subs {
		fn(LiveQueryEvent{
			ClassName: ev.ClassName,
			Object:    ir.CloneObject(ev.Object),
			Original:  ir.CloneObject(ev.Original),
		})
	}
}
