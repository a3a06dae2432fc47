package session

import (
	"sync"
	"testing"

	"netball/server/internal/sim"
	"netball/server/internal/telemetry"
)

func TestInboxPreservesArrivalOrder(t *testing.T) {
	inbox := NewInbox(4, nil)
	for i := 0; i < 3; i++ {
		if !inbox.Push(RemoteInput{Player: 1, Input: sim.NeutralInput(sim.Frame(i))}) {
			t.Fatalf("push %d refused", i)
		}
	}
	drained := inbox.Drain()
	if len(drained) != 3 {
		t.Fatalf("expected 3 inputs, got %d", len(drained))
	}
	for i, in := range drained {
		if in.Input.Frame != sim.Frame(i) {
			t.Fatalf("expected frame %d at position %d, got %d", i, i, in.Input.Frame)
		}
	}
	if inbox.Len() != 0 {
		t.Fatalf("expected empty inbox after drain, got %d", inbox.Len())
	}
}

func TestInboxRefusesWhenFull(t *testing.T) {
	counters := telemetry.NewCounters()
	inbox := NewInbox(2, counters)
	inbox.Push(RemoteInput{})
	inbox.Push(RemoteInput{})
	if inbox.Push(RemoteInput{}) {
		t.Fatalf("expected third push to be refused")
	}
	if inbox.Dropped() != 1 {
		t.Fatalf("expected 1 drop, got %d", inbox.Dropped())
	}
	if got := counters.Get(inboxOverflowMetricKey); got != 1 {
		t.Fatalf("expected overflow metric 1, got %d", got)
	}
	if got := counters.Get(inboxOccupancyMetricKey); got != 2 {
		t.Fatalf("expected occupancy 2, got %d", got)
	}
}

func TestInboxConcurrentProducers(t *testing.T) {
	const producers = 8
	const perProducer = 200
	inbox := NewInbox(producers*perProducer, nil)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(player sim.PlayerID) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				inbox.Push(RemoteInput{Player: player, Input: sim.NeutralInput(sim.Frame(i))})
			}
		}(sim.PlayerID(p))
	}

	total := 0
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for {
		total += len(inbox.Drain())
		select {
		case <-done:
			total += len(inbox.Drain())
			if total != producers*perProducer {
				t.Fatalf("expected %d inputs, drained %d", producers*perProducer, total)
			}
			return
		default:
		}
	}
}
