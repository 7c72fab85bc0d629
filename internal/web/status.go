package web

import (
	"sync"
	"time"

	"gnssctl/internal/status"
)

// Status caches the latest receiver update for the HTTP API and fans it out
// to streaming clients. It is a status.Observer.
type Status struct {
	start time.Time

	mu      sync.Mutex
	last    status.Update
	changed time.Time
	have    bool
	subs    map[chan status.Update]struct{}
}

func NewStatus() *Status {
	return &Status{
		start: time.Now().UTC(),
		subs:  make(map[chan status.Update]struct{}),
	}
}

// OnStatus records u and offers it to every subscriber. Slow subscribers
// miss updates rather than stall the publisher.
func (s *Status) OnStatus(u status.Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = u
	s.changed = time.Now().UTC()
	s.have = true
	for ch := range s.subs {
		select {
		case ch <- u:
		default:
		}
	}
}

func (s *Status) subscribe() chan status.Update {
	ch := make(chan status.Update, 4)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

func (s *Status) unsubscribe(ch chan status.Update) {
	s.mu.Lock()
	delete(s.subs, ch)
	s.mu.Unlock()
}

type StatusSnapshot struct {
	Service       string         `json:"service"`
	NowUTC        string         `json:"now_utc"`
	UptimeSec     int64          `json:"uptime_sec"`
	State         string         `json:"state,omitempty"`
	Model         string         `json:"model,omitempty"`
	AverageLockMS int64          `json:"average_lock_ms"`
	GPS           *status.Update `json:"gps,omitempty"`
	LastChangeUTC string         `json:"last_change_utc,omitempty"`
}

func (s *Status) Snapshot(nowUTC time.Time, ctl Controls) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	snap := StatusSnapshot{
		Service:   "gnssctl",
		NowUTC:    nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec: int64(nowUTC.Sub(s.start).Seconds()),
	}
	if ctl != nil {
		snap.State = ctl.State().String()
		snap.Model = ctl.Model().String()
		snap.AverageLockMS = ctl.AverageLockTime().Milliseconds()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.have {
		u := s.last
		snap.GPS = &u
		snap.LastChangeUTC = s.changed.Format(time.RFC3339Nano)
	}
	return snap
}
