package status

import (
	"testing"

	"gnssctl/internal/fix"
)

type recorder struct {
	updates []Update
}

func (r *recorder) OnStatus(u Update) { r.updates = append(r.updates, u) }

func TestPublisher_FirstPublishAlwaysNotifies(t *testing.T) {
	r := &recorder{}
	p := NewPublisher(r)

	if !p.Publish(Status{}) {
		t.Fatalf("first Publish() returned false")
	}
	if len(r.updates) != 1 || len(r.updates[0].Edges) != 0 {
		t.Fatalf("updates=%+v", r.updates)
	}
	if p.Publish(Status{}) {
		t.Fatalf("identical snapshot republished")
	}
	if len(r.updates) != 1 {
		t.Fatalf("updates=%d want 1", len(r.updates))
	}
}

func TestPublisher_Edges(t *testing.T) {
	r := &recorder{}
	p := NewPublisher(r)

	p.Publish(Status{Connected: true, IsPowerSaving: true})
	p.Publish(Status{Connected: true, HasLock: true, Fix: fix.Record{SatsInView: 7}})
	p.Publish(Status{Connected: true, RebootAnomalies: 1})

	if len(r.updates) != 3 {
		t.Fatalf("updates=%d want 3", len(r.updates))
	}
	if !r.updates[0].Has(EdgeConnected) || len(r.updates[0].Edges) != 1 {
		t.Fatalf("first edges=%v", r.updates[0].Edges)
	}
	if !r.updates[1].Has(EdgeLocationAcquired) || r.updates[1].Has(EdgeConnected) {
		t.Fatalf("second edges=%v", r.updates[1].Edges)
	}
	if !r.updates[2].Has(EdgeLocationLost) || !r.updates[2].Has(EdgeRebootAnomaly) {
		t.Fatalf("third edges=%v", r.updates[2].Edges)
	}
}

func TestPublisher_NonEdgeChangeNotifies(t *testing.T) {
	r := &recorder{}
	p := NewPublisher(r)

	p.Publish(Status{Connected: true, HasLock: true, Fix: fix.Record{Timestamp: 100}})
	p.Publish(Status{Connected: true, HasLock: true, Fix: fix.Record{Timestamp: 101}})

	if len(r.updates) != 2 || len(r.updates[1].Edges) != 0 {
		t.Fatalf("updates=%+v", r.updates)
	}
}

func TestPublisher_OrderAndNilObserver(t *testing.T) {
	var order []int
	p := NewPublisher(
		ObserverFunc(func(Update) { order = append(order, 1) }),
		nil,
	)
	p.Subscribe(ObserverFunc(func(Update) { order = append(order, 2) }))
	p.Publish(Status{Connected: true})

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("order=%v", order)
	}
}

func TestPublisher_ObserversGetCopies(t *testing.T) {
	var got Update
	p := NewPublisher(ObserverFunc(func(u Update) {
		u.Status.HasLock = true
		got = u
	}))
	p.Publish(Status{Connected: true})

	last, ok := p.Last()
	if !ok {
		t.Fatalf("Last() not published")
	}
	if last.HasLock {
		t.Fatalf("observer mutation leaked into publisher")
	}
	if !got.Status.HasLock {
		t.Fatalf("observer did not run")
	}
}

func TestPublisher_LastBeforePublish(t *testing.T) {
	p := NewPublisher()
	if _, ok := p.Last(); ok {
		t.Fatalf("Last() ok before publish")
	}
}

func TestEdge_String(t *testing.T) {
	cases := map[Edge]string{
		EdgeConnected:        "connected",
		EdgeLocationAcquired: "location_acquired",
		EdgeLocationLost:     "location_lost",
		EdgeRebootAnomaly:    "reboot_anomaly",
		Edge(42):             "unknown",
	}
	for e, want := range cases {
		if e.String() != want {
			t.Fatalf("%d: got %q want %q", int(e), e.String(), want)
		}
	}
}

func TestEdge_UnmarshalText(t *testing.T) {
	var e Edge
	if err := e.UnmarshalText([]byte("location_lost")); err != nil || e != EdgeLocationLost {
		t.Fatalf("edge=%v err=%v", e, err)
	}
	if err := e.UnmarshalText([]byte("bogus")); err == nil {
		t.Fatalf("expected error")
	}
}
