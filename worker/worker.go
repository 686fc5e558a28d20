// Copyright (c) 2024 The pollinet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package worker implements the C5 event worker: one cooperative task
// multiplexing every producer (BLE inbound, app outbound, timeout
// ticks) so that the device sleeps between events instead of polling
// each queue on its own timer (§4.5).
package worker

import (
	"context"
	"time"

	"github.com/pollinet/pollinet-sub003/adapters"
	"github.com/pollinet/pollinet-sub003/dedup"
	"github.com/pollinet/pollinet-sub003/fragment"
	"github.com/pollinet/pollinet-sub003/logger"
	"github.com/pollinet/pollinet-sub003/persistence"
	"github.com/pollinet/pollinet-sub003/reassembly"
	"github.com/pollinet/pollinet-sub003/relaypolicy"
	"github.com/pollinet/pollinet-sub003/queueset"
	"github.com/pollinet/pollinet-sub003/util/locks"
	"github.com/pollinet/pollinet-sub003/util/panics"
)

var log, _ = logger.Get(logger.SubsystemTags.WRKR)
var spawn = panics.GoroutineWrapperFunc(log)

const (
	outboundBatch     = 10
	confirmationBatch = 10
	receivedBatch     = 5

	// eventChannelCapacity bounds how far a burst of producers can get
	// ahead of the worker before Enqueue starts blocking them.
	eventChannelCapacity = 256
)

// DefaultCleanupInterval is the fallback cleanup tick used when New is
// given a non-positive interval. Callers should instead pass
// cfg.WorkerTimeoutMs (§4.5, §6.4, default 30000ms).
const DefaultCleanupInterval = 30 * time.Second

// Deps bundles every collaborator the worker drains events against.
type Deps struct {
	Transport     adapters.BLETransport
	Clock         adapters.Clock
	Outbound      *queueset.Outbound
	Retry         *queueset.Retry
	Confirmations *queueset.ConfirmationQueue
	Received      *queueset.Received
	Reassembly    *reassembly.Buffer
	Dedup         *dedup.Ledger
	// Originated tracks tx_ids this device itself pushed to Outbound
	// (§4.6); it shares Dedup's TTL-purge mechanism but is optional, so
	// tests that don't exercise self-origination can leave it nil.
	Originated  *dedup.Ledger
	Persistence *persistence.Store
	Policy      relaypolicy.Deps

	// MaxPayload returns the current MTU-derived max_payload (§4.1),
	// shared with Policy.MaxPayload so a retry re-split and a
	// Confirmation relay use the same cap.
	MaxPayload func() int
}

// Worker is the single event-driven task described in §4.5. All of
// its state (the queues, reassembly buffer, dedup ledger) is owned by
// its Deps; Worker only owns the scheduling loop.
type Worker struct {
	deps Deps

	events          chan Event
	stopCh          chan struct{}
	running         *locks.WaitGroup
	cleanupInterval time.Duration
}

// New creates a Worker whose periodic cleanup tick fires every
// cleanupInterval (cfg.WorkerTimeoutMs, §6.4); a non-positive value
// falls back to DefaultCleanupInterval. Call Run to start the loop in
// the current goroutine, or spawn it via the caller's own
// panics-aware wrapper.
func New(deps Deps, cleanupInterval time.Duration) *Worker {
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}
	return &Worker{
		deps:            deps,
		events:          make(chan Event, eventChannelCapacity),
		stopCh:          make(chan struct{}),
		running:         locks.NewWaitGroup(),
		cleanupInterval: cleanupInterval,
	}
}

// Enqueue posts an event for the worker to process. It never blocks
// the caller indefinitely: the channel is sized generously, and a
// full channel means the worker is already behind, at which point
// applying backpressure to the producer is the correct behavior.
func (w *Worker) Enqueue(kind EventKind) {
	select {
	case w.events <- Event{Kind: kind}:
	case <-w.stopCh:
	}
}

// Stop signals the loop to exit after it finishes any event currently
// in flight, and waits for it to fully drain.
func (w *Worker) Stop() {
	close(w.stopCh)
	w.running.Wait()
}

// Run is the worker's main loop (§4.5):
//  1. classify the event and dispatch to a bounded batch processor;
//  2. re-enqueue OutboundReady to itself if the band still has work,
//     so one event drains the queue fairly without monopolizing the
//     worker;
//  3. on Cleanup: sweep reassembly, purge dedup, and mark persistence
//     dirty if anything changed; Retry and Confirmation entries are
//     not purged.
func (w *Worker) Run(ctx context.Context) {
	w.running.Add()
	defer w.running.Done()

	ticker := time.NewTicker(w.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.handle(ctx, Event{Kind: Cleanup})
		case ev := <-w.events:
			w.handle(ctx, ev)
		}
	}
}

func (w *Worker) handle(ctx context.Context, ev Event) {
	switch ev.Kind {
	case OutboundReady:
		w.drainOutbound()
	case ReceivedReady:
		w.drainReceived(ctx)
	case RetryReady:
		w.drainRetry()
	case ConfirmationReady:
		w.drainConfirmations()
	case Cleanup:
		w.cleanup()
	}
}

// drainOutbound sends up to outboundBatch items to the BLE transport.
// If the queue still has items afterward, it re-enqueues itself so
// one OutboundReady event fully drains a burst without starving other
// event kinds indefinitely.
func (w *Worker) drainOutbound() {
	for i := 0; i < outboundBatch; i++ {
		item := w.deps.Outbound.Pop()
		if item == nil {
			return
		}
		for _, frag := range item.Fragments {
			frame := fragment.Encode(frag)
			if err := w.deps.Transport.Send(context.Background(), frame); err != nil {
				log.Warnf("sending fragment %d/%d of %x failed: %s", frag.Index, frag.Total, item.TxID, err)
			}
		}
		w.deps.Persistence.MarkDirty()
	}
	if w.deps.Outbound.Len() > 0 {
		w.Enqueue(OutboundReady)
	}
}

func (w *Worker) drainReceived(ctx context.Context) {
	for i := 0; i < receivedBatch; i++ {
		item := w.deps.Received.Pop()
		if item == nil {
			return
		}
		relaypolicy.Process(ctx, item, w.deps.Policy)
		w.deps.Persistence.MarkDirty()
	}
	if w.deps.Received.Len() > 0 {
		w.Enqueue(ReceivedReady)
	}
}

// drainRetry pops every item whose backoff has elapsed ("N-ready" per
// §4.5) and re-enqueues it onto Outbound for another relay attempt.
func (w *Worker) drainRetry() {
	now := w.deps.Clock.NowMs()
	for {
		item := w.deps.Retry.PopReady(now)
		if item == nil {
			return
		}
		frags, err := fragment.Split(item.TxBytes, w.deps.MaxPayload())
		if err != nil {
			log.Errorf("re-splitting retry item %x failed: %s", item.TxID, err)
			continue
		}
		w.deps.Outbound.Push(&queueset.OutboundItem{
			TxID:          item.TxID,
			OriginalBytes: item.TxBytes,
			Fragments:     frags,
			Priority:      queueset.PriorityNormal,
			CreatedAtMs:   now,
			RetryCount:    item.AttemptCount,
		})
		w.deps.Persistence.MarkDirty()
	}
}

// drainConfirmations pops up to confirmationBatch Confirmations. A
// self-originated one was already surfaced to the host via the
// OnConfirmation callback at the moment relaypolicy.Process produced
// it (§4.6 tie-break: never re-broadcast a Confirmation to ourselves),
// so it is simply consumed here. Any other Confirmation is fragmented
// as a CONTROL frame and pushed back onto Outbound so it keeps
// propagating across the mesh toward its true originator (§4.3).
func (w *Worker) drainConfirmations() {
	for i := 0; i < confirmationBatch; i++ {
		c := w.deps.Confirmations.Pop()
		if c == nil {
			return
		}
		if c.SelfOriginated {
			continue
		}

		payload := queueset.EncodeConfirmation(c)
		frags, err := fragment.SplitTyped(payload, w.deps.MaxPayload(), fragment.TypeControl)
		if err != nil {
			log.Errorf("fragmenting confirmation %x for relay failed: %s", c.TxID, err)
			continue
		}
		w.deps.Outbound.Push(&queueset.OutboundItem{
			TxID:          frags[0].TxID,
			OriginalBytes: payload,
			Fragments:     frags,
			Priority:      queueset.PriorityHigh,
			CreatedAtMs:   w.deps.Clock.NowMs(),
		})
		w.deps.Persistence.MarkDirty()
	}
}

// cleanup runs the periodic maintenance pass (§4.5, §4.2, §4.4): sweep
// stale reassembly sets, purge expired dedup entries, and mark the
// persistence layer dirty so the next autosave tick picks up whatever
// changed since the last one.
func (w *Worker) cleanup() {
	now := w.deps.Clock.NowMs()
	swept := w.deps.Reassembly.Sweep(now)
	purged := w.deps.Dedup.Purge(now)
	if w.deps.Originated != nil {
		purged += w.deps.Originated.Purge(now)
	}
	permanent := w.deps.Retry.PermanentFailures()

	if swept > 0 || purged > 0 || len(permanent) > 0 {
		log.Debugf("cleanup: swept %d stale reassembly sets, purged %d dedup entries, %d retries now permanent", swept, purged, len(permanent))
		w.deps.Persistence.MarkDirty()
	}
}
