package bulk

import "sync"

// Publisher owns the progress counters for one job and fans snapshots out
// to subscribers. Counter updates are O(1); no outcome rescan happens on
// publish. Subscribers receive every snapshot emitted after they attach;
// there is no replay of earlier ones.
type Publisher struct {
	mu     sync.Mutex
	snap   Snapshot
	subs   []chan Snapshot
	buf    int
	closed bool
}

func newPublisher(total int) *Publisher {
	return &Publisher{
		snap: Snapshot{Total: total, Pending: total},
		// One slot per device plus the closing snapshot, so a subscriber
		// that never drains can still not block a worker.
		buf: total + 1,
	}
}

// Subscribe attaches an observer. The returned channel is closed once the
// final snapshot has been delivered.
func (p *Publisher) Subscribe() <-chan Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch := make(chan Snapshot, p.buf)
	if p.closed {
		ch <- p.snap
		close(ch)
		return ch
	}
	p.subs = append(p.subs, ch)
	return ch
}

// Current returns the latest snapshot without subscribing.
func (p *Publisher) Current() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}

// started moves one device from pending to in-flight. No snapshot is
// emitted; observers only see completed work.
func (p *Publisher) started() {
	p.mu.Lock()
	p.snap.Pending--
	p.snap.InFlight++
	p.mu.Unlock()
}

// publish records one completed outcome and emits the recomputed snapshot.
// Called exactly once per completed task.
func (p *Publisher) publish(oc Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.snap.InFlight--
	switch oc.Status {
	case StatusSuccess:
		p.snap.Succeeded++
	case StatusSkipped:
		p.snap.Skipped++
	default:
		p.snap.Failed++
	}
	p.snap.LastDevEUI = oc.DevEUI
	p.snap.LastStatus = oc.Status

	p.emit()
}

// close emits the final snapshot and releases all subscribers.
func (p *Publisher) close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	p.snap.Done = true

	p.emit()
	for _, ch := range p.subs {
		close(ch)
	}
	p.subs = nil
}

func (p *Publisher) emit() {
	for _, ch := range p.subs {
		select {
		case ch <- p.snap:
		default:
			// Buffer sized to the job; full means the subscriber is gone.
		}
	}
}
