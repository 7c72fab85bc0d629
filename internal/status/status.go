// Package status publishes receiver status snapshots to observers, once per
// change.
package status

import (
	"fmt"
	"sync"

	"gnssctl/internal/fix"
)

// Status is the externally visible receiver state. It is a value: observers
// receive copies.
type Status struct {
	Connected     bool       `json:"connected"`
	HasLock       bool       `json:"has_lock"`
	IsPowerSaving bool       `json:"is_power_saving"`
	Fix           fix.Record `json:"fix"`

	// RebootAnomalies counts reboot storms that triggered a factory reset.
	RebootAnomalies uint32 `json:"reboot_anomalies"`
}

// Edge is a transition detected between two published snapshots.
type Edge int

const (
	EdgeConnected Edge = iota
	EdgeLocationAcquired
	EdgeLocationLost
	EdgeRebootAnomaly
)

func (e Edge) String() string {
	switch e {
	case EdgeConnected:
		return "connected"
	case EdgeLocationAcquired:
		return "location_acquired"
	case EdgeLocationLost:
		return "location_lost"
	case EdgeRebootAnomaly:
		return "reboot_anomaly"
	default:
		return "unknown"
	}
}

func (e Edge) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

func (e *Edge) UnmarshalText(b []byte) error {
	for x := EdgeConnected; x <= EdgeRebootAnomaly; x++ {
		if x.String() == string(b) {
			*e = x
			return nil
		}
	}
	return fmt.Errorf("status: unknown edge %q", b)
}

// Update is one notification.
type Update struct {
	Status Status `json:"status"`
	Edges  []Edge `json:"edges,omitempty"`
}

// Has reports whether e is among u's edges.
func (u Update) Has(e Edge) bool {
	for _, x := range u.Edges {
		if x == e {
			return true
		}
	}
	return false
}

// Observer receives updates synchronously. It must not block or call back
// into the publisher's source.
type Observer interface {
	OnStatus(Update)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Update)

func (f ObserverFunc) OnStatus(u Update) { f(u) }

// Publisher compares each snapshot to the last published one and notifies
// observers in subscription order when it differs.
type Publisher struct {
	mu        sync.Mutex
	observers []Observer
	last      Status
	published bool
}

// NewPublisher returns a publisher with the given observers.
func NewPublisher(obs ...Observer) *Publisher {
	p := &Publisher{}
	for _, o := range obs {
		p.Subscribe(o)
	}
	return p
}

// Subscribe appends o. Nil observers are ignored.
func (p *Publisher) Subscribe(o Observer) {
	if o == nil {
		return
	}
	p.mu.Lock()
	p.observers = append(p.observers, o)
	p.mu.Unlock()
}

// Publish notifies observers if s differs from the previous snapshot and
// reports whether it did.
func (p *Publisher) Publish(s Status) bool {
	p.mu.Lock()
	if p.published && s == p.last {
		p.mu.Unlock()
		return false
	}
	u := Update{Status: s, Edges: edges(p.last, s)}
	p.last = s
	p.published = true
	obs := append([]Observer(nil), p.observers...)
	p.mu.Unlock()

	for _, o := range obs {
		o.OnStatus(u)
	}
	return true
}

// Last returns the most recently published snapshot.
func (p *Publisher) Last() (Status, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last, p.published
}

func edges(prev, cur Status) []Edge {
	var out []Edge
	if cur.Connected && !prev.Connected {
		out = append(out, EdgeConnected)
	}
	if cur.HasLock && !prev.HasLock {
		out = append(out, EdgeLocationAcquired)
	}
	if !cur.HasLock && prev.HasLock {
		out = append(out, EdgeLocationLost)
	}
	if cur.RebootAnomalies > prev.RebootAnomalies {
		out = append(out, EdgeRebootAnomaly)
	}
	return out
}
