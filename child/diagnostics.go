package child

import (
	"sync"
	"time"
)

type DiagnosticKind string

const (
	DiagLifecycleSendFailed DiagnosticKind = "lifecycle_send_failed"
	DiagDispatchSendFailed  DiagnosticKind = "dispatch_send_failed"
	DiagDuplicateClient     DiagnosticKind = "duplicate_client"
	DiagUnmatchedReply      DiagnosticKind = "unmatched_reply"
)

// Diagnostic is a failure that is not returned to any caller: best-effort sends that failed,
// replies that nobody waited for, and repeated client construction.
type Diagnostic struct {
	Kind    DiagnosticKind
	Message string
	Err     error `json:"-"`
	Time    time.Time
}

const recentDiagnostics = 64

// Diagnostics fans diagnostic events out to subscribers and keeps the most recent ones.
// Publishing never blocks: a subscriber that is not keeping up misses events.
type Diagnostics struct {
	m      sync.Mutex
	nextID int
	subs   map[int]chan Diagnostic
	recent []Diagnostic
}

func NewDiagnostics() *Diagnostics {
	return &Diagnostics{subs: map[int]chan Diagnostic{}}
}

// Subscribe returns a channel of future events and a function that ends the subscription.
func (d *Diagnostics) Subscribe(buffer int) (<-chan Diagnostic, func()) {
	d.m.Lock()
	defer d.m.Unlock()
	id := d.nextID
	d.nextID++
	ch := make(chan Diagnostic, buffer)
	d.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			d.m.Lock()
			defer d.m.Unlock()
			delete(d.subs, id)
			close(ch)
		})
	}
}

// Recent returns up to the last 64 events, oldest first.
func (d *Diagnostics) Recent() []Diagnostic {
	d.m.Lock()
	defer d.m.Unlock()
	return append([]Diagnostic(nil), d.recent...)
}

func (d *Diagnostics) publish(kind DiagnosticKind, msg string, err error) {
	ev := Diagnostic{Kind: kind, Message: msg, Err: err, Time: time.Now()}

	d.m.Lock()
	defer d.m.Unlock()
	d.recent = append(d.recent, ev)
	if len(d.recent) > recentDiagnostics {
		d.recent = d.recent[len(d.recent)-recentDiagnostics:]
	}
	for _, ch := range d.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
