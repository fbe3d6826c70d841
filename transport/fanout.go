package transport

import (
	"sync"

	"github.com/guseggert/clusterclient/protocol"
)

type listenerEntry struct {
	sub Subscription
	l   Listener
}

// fanout allows dynamic concurrent addition and removal of listeners, and hands each envelope to
// every listener registered at the moment of delivery. With no listeners the envelope is dropped.
type fanout struct {
	m         sync.Mutex
	nextSub   Subscription
	listeners []listenerEntry
}

func (f *fanout) Add(l Listener) Subscription {
	f.m.Lock()
	defer f.m.Unlock()
	f.nextSub++
	f.listeners = append(f.listeners, listenerEntry{sub: f.nextSub, l: l})
	return f.nextSub
}

func (f *fanout) Remove(s Subscription) {
	f.m.Lock()
	defer f.m.Unlock()

	for i := 0; i < len(f.listeners); i++ {
		if f.listeners[i].sub == s {
			f.listeners = append(f.listeners[:i], f.listeners[i+1:]...)
			return
		}
	}
}

func (f *fanout) Len() int {
	f.m.Lock()
	defer f.m.Unlock()
	return len(f.listeners)
}

// Deliver calls the listeners outside the lock, so a listener may subscribe or unsubscribe while running.
// It returns the number of listeners called.
func (f *fanout) Deliver(env protocol.Envelope) int {
	f.m.Lock()
	snapshot := make([]Listener, len(f.listeners))
	for i, e := range f.listeners {
		snapshot[i] = e.l
	}
	f.m.Unlock()

	for _, l := range snapshot {
		l(env)
	}
	return len(snapshot)
}
