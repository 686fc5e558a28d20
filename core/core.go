// Copyright (c) 2024 The pollinet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package core wires every component (C1-C10, C14) into the single
// entry point a host application embeds: init/shutdown plus the
// public operations of §6.3.
package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/pkg/errors"

	"github.com/pollinet/pollinet-sub003/adapters"
	"github.com/pollinet/pollinet-sub003/config"
	"github.com/pollinet/pollinet-sub003/dedup"
	"github.com/pollinet/pollinet-sub003/fragment"
	"github.com/pollinet/pollinet-sub003/logger"
	"github.com/pollinet/pollinet-sub003/metrics"
	"github.com/pollinet/pollinet-sub003/noncestore"
	"github.com/pollinet/pollinet-sub003/persistence"
	"github.com/pollinet/pollinet-sub003/reassembly"
	"github.com/pollinet/pollinet-sub003/relayerrors"
	"github.com/pollinet/pollinet-sub003/relaypolicy"
	"github.com/pollinet/pollinet-sub003/queueset"
	"github.com/pollinet/pollinet-sub003/txbuilder"
	"github.com/pollinet/pollinet-sub003/util/panics"
	"github.com/pollinet/pollinet-sub003/worker"
)

var log, _ = logger.Get(logger.SubsystemTags.CORE)
var spawn = panics.GoroutineWrapperFunc(log)

// Adapters bundles the host-supplied external collaborators (§4.10).
type Adapters struct {
	Transport adapters.BLETransport
	Network   adapters.NetworkSensor
	Signer    adapters.WalletSigner
	RPC       adapters.ChainRPC
	Clock     adapters.Clock
}

// Core is the single object a host application embeds. It owns every
// queue, the reassembly buffer, the dedup ledger, the nonce store,
// the persistence layer, and the event worker.
type Core struct {
	cfg     *config.Config
	adapter Adapters

	outbound      *queueset.Outbound
	retry         *queueset.Retry
	confirmations *queueset.ConfirmationQueue
	received      *queueset.Received
	reassembly    *reassembly.Buffer
	dedup         *dedup.Ledger
	// originated tracks tx_ids this device itself pushed to Outbound,
	// so PushInbound can stamp ReceivedItem.SelfOriginated and a
	// looped-back Confirmation is recognized as ours instead of kept
	// relaying forever (§4.6). It is rebuilt from scratch on restart:
	// losing it only means a self-originated tx looped back through
	// the mesh once more gets submitted again, which dedup.Ledger's
	// ordinary tx_id check already suppresses.
	originated  *dedup.Ledger
	nonces      *noncestore.Store
	persistence *persistence.Store
	metrics     *metrics.Counters
	worker      *worker.Worker

	// maxPayload is the live MTU-derived max_payload (§4.1), seeded
	// from adapter.Transport.MTU() at Init and updated by
	// handleMTUChange whenever the link's MTU changes mid-session.
	maxPayload atomic.Int64

	confirmMu      sync.Mutex
	onConfirmation func(*queueset.Confirmation)

	workerCancel context.CancelFunc
}

// Init constructs and starts a Core from cfg and adapter, restoring
// prior state from disk if a snapshot exists (§6.3 init).
func Init(cfg *config.Config, adapter Adapters) (*Core, error) {
	c := &Core{
		cfg:           cfg,
		adapter:       adapter,
		outbound:      queueset.NewOutbound(),
		retry:         queueset.NewRetry(cfg.RetryBaseMs, cfg.RetryCeilingMs, cfg.MaxAttempts),
		confirmations: queueset.NewConfirmationQueue(),
		received:      queueset.NewReceived(),
		reassembly:    reassembly.New(cfg.ReassemblyTTLMs, cfg.MaxIncompleteSets),
		dedup:         dedup.New(cfg.DedupTTLMs),
		originated:    dedup.New(cfg.DedupTTLMs),
		nonces:        noncestore.New(adapter.RPC),
		metrics:       &metrics.Counters{},
	}
	c.maxPayload.Store(int64(fragment.MaxPayloadForMTU(adapter.Transport.MTU())))

	c.persistence = persistence.New(cfg.SnapshotPath(), persistence.Components{
		Outbound:     c.outbound,
		Retry:        c.retry,
		Confirmation: c.confirmations,
		Received:     c.received,
		Dedup:        c.dedup,
		Nonces:       c.nonces,
	}, time.Duration(cfg.AutosaveDebounceMs)*time.Millisecond)

	if err := c.persistence.Load(); err != nil {
		return nil, errors.Wrap(err, "loading persisted state")
	}

	c.worker = worker.New(worker.Deps{
		Transport:     adapter.Transport,
		Clock:         adapter.Clock,
		Outbound:      c.outbound,
		Retry:         c.retry,
		Confirmations: c.confirmations,
		Received:      c.received,
		Reassembly:    c.reassembly,
		Dedup:         c.dedup,
		Originated:    c.originated,
		Persistence:   c.persistence,
		MaxPayload:    c.currentMaxPayload,
		Policy: relaypolicy.Deps{
			RPC:            adapter.RPC,
			Network:        adapter.Network,
			Dedup:          c.dedup,
			Retry:          c.retry,
			Confirmations:  c.confirmations,
			Outbound:       c.outbound,
			Clock:          adapter.Clock,
			MaxPayload:     c.currentMaxPayload,
			OnConfirmation: c.dispatchConfirmation,
		},
	}, time.Duration(cfg.WorkerTimeoutMs)*time.Millisecond)

	adapter.Transport.OnRecv(func(frame []byte) {
		if err := c.PushInbound(frame); err != nil {
			log.Debugf("dropping inbound frame: %s", err)
		}
	})
	adapter.Transport.OnMTUChange(c.handleMTUChange)

	ctx, cancel := context.WithCancel(context.Background())
	c.workerCancel = cancel
	spawn(func() { c.worker.Run(ctx) })
	spawn(c.persistence.Run)

	log.Infof("core initialized, storage directory %s, max_payload %d", cfg.StorageDirectory, c.currentMaxPayload())
	return c, nil
}

// currentMaxPayload returns the live MTU-derived max_payload (§4.1).
// It is shared as a func() int with relaypolicy.Deps.MaxPayload and
// worker.Deps.MaxPayload so every fragmentation site in the core uses
// the same value, including after a mid-session MTU change.
func (c *Core) currentMaxPayload() int {
	return int(c.maxPayload.Load())
}

// handleMTUChange updates the live max_payload and re-fragments every
// already-queued Outbound item so it still fits the new link budget
// (§4.1: "max_payload is chosen so that the encoded Fragment fits
// within the current BLE MTU minus a small safety margin").
func (c *Core) handleMTUChange(newMTU int) {
	newMax := fragment.MaxPayloadForMTU(newMTU)
	c.maxPayload.Store(int64(newMax))
	for _, err := range c.outbound.Refragment(newMax) {
		log.Warnf("re-fragmenting outbound item after MTU change failed: %s", err)
	}
	c.persistence.MarkDirty()
	log.Infof("BLE MTU changed to %d, max_payload now %d", newMTU, newMax)
}

// OnConfirmation registers callback to be invoked with every
// Confirmation the relay policy (C6) produces, self-originated or
// not, so the host can observe final transaction outcomes (§6.3
// "confirmation events"). Registering again replaces the previous
// callback.
func (c *Core) OnConfirmation(callback func(*queueset.Confirmation)) {
	c.confirmMu.Lock()
	defer c.confirmMu.Unlock()
	c.onConfirmation = callback
}

func (c *Core) dispatchConfirmation(conf *queueset.Confirmation) {
	c.confirmMu.Lock()
	callback := c.onConfirmation
	c.confirmMu.Unlock()
	if callback != nil {
		callback(conf)
	}
}

// Shutdown stops the worker and flushes a final snapshot to disk
// (§6.3 shutdown).
func (c *Core) Shutdown() {
	c.workerCancel()
	c.worker.Stop()
	c.persistence.Close()
	logger.Close()
}

// PushOutbound fragments tx_bytes and enqueues it onto Outbound at
// priority, returning its tx_id immediately; final outcome is
// observed via Metrics/Confirmation events (§6.3, §7 user-visible
// behavior).
func (c *Core) PushOutbound(txBytes []byte, priority queueset.Priority) (fragment.TxID, error) {
	frags, err := fragment.Split(txBytes, c.currentMaxPayload())
	if err != nil {
		return fragment.TxID{}, err
	}
	txID := frags[0].TxID
	c.outbound.Push(&queueset.OutboundItem{
		TxID:          txID,
		OriginalBytes: txBytes,
		Fragments:     frags,
		Priority:      priority,
		CreatedAtMs:   c.adapter.Clock.NowMs(),
	})
	now := c.adapter.Clock.NowMs()
	c.dedup.MarkSeen(txID, now)
	c.originated.MarkSeen(txID, now)
	c.persistence.MarkDirty()
	c.worker.Enqueue(worker.OutboundReady)
	return txID, nil
}

// PushInbound decodes one frame received from the BLE adapter and
// feeds it through reassembly and dedup (§6.3). A reassembled CONTROL
// payload is routed to handleInboundConfirmation instead of Received,
// since it carries a relayed Confirmation rather than a transaction to
// submit or relay (§4.3).
func (c *Core) PushInbound(frame []byte) error {
	frag, err := fragment.Decode(frame, c.currentMaxPayload())
	if err != nil {
		return err
	}
	c.metrics.IncFragmentsReceived()

	payload, err := c.reassembly.Accept(frag, c.adapter.Clock.NowMs())
	if err != nil {
		c.metrics.IncReassembliesFailed()
		return err
	}
	if payload == nil {
		return nil // not yet complete
	}
	c.metrics.IncReassembliesOK()

	if frag.FragmentType == fragment.TypeControl {
		return c.handleInboundConfirmation(payload)
	}

	if c.dedup.Seen(frag.TxID) {
		c.metrics.IncDedupHits()
		return errors.WithStack(relayerrors.ErrDuplicate)
	}
	c.dedup.MarkSeen(frag.TxID, c.adapter.Clock.NowMs())

	c.received.Push(&queueset.ReceivedItem{
		TxID:           frag.TxID,
		TxBytes:        payload,
		ReceivedAtMs:   c.adapter.Clock.NowMs(),
		SelfOriginated: c.originated.Seen(frag.TxID),
	})
	c.persistence.MarkDirty()
	c.worker.Enqueue(worker.ReceivedReady)
	return nil
}

// handleInboundConfirmation decodes a relayed Confirmation CONTROL
// payload. If it reports on a transaction this device originated, it
// is surfaced to the host via OnConfirmation and dropped rather than
// kept propagating, per §4.6's tie-break against echoing a
// Confirmation back to its own originator. Otherwise it is
// re-fragmented and pushed back onto Outbound so it keeps propagating
// toward whichever peer did originate it.
func (c *Core) handleInboundConfirmation(payload []byte) error {
	conf, err := queueset.DecodeConfirmation(payload)
	if err != nil {
		return err
	}

	if c.originated.Seen(conf.TxID) {
		conf.SelfOriginated = true
		c.dispatchConfirmation(conf)
		return nil
	}

	frags, err := fragment.SplitTyped(payload, c.currentMaxPayload(), fragment.TypeControl)
	if err != nil {
		return err
	}
	c.outbound.Push(&queueset.OutboundItem{
		TxID:          frags[0].TxID,
		OriginalBytes: payload,
		Fragments:     frags,
		Priority:      queueset.PriorityHigh,
		CreatedAtMs:   c.adapter.Clock.NowMs(),
	})
	c.persistence.MarkDirty()
	c.worker.Enqueue(worker.OutboundReady)
	return nil
}

// PopNextFrame returns the next already-encoded frame for the host's
// own BLE sender to transmit, or nil if Outbound is empty (§6.3). It
// pops from the same Outbound queue the worker drains on OutboundReady,
// so it is not a pure read: an item the worker pops is sent by the
// worker and is never returned here, and vice versa. The candidate frame is encoded before item.Fragments is mutated, so an
// oversized frame is never silently dropped: the untouched item is
// pushed back for a future call with a larger maxLen (or after the
// next MTU change re-fragments it).
func (c *Core) PopNextFrame(maxLen int) []byte {
	item := c.outbound.Pop()
	if item == nil {
		return nil
	}
	if len(item.Fragments) == 0 {
		return nil
	}

	frag := item.Fragments[0]
	frame := fragment.Encode(frag)
	if len(frame) > maxLen {
		c.outbound.Push(item)
		return nil
	}

	item.Fragments = item.Fragments[1:]
	if len(item.Fragments) > 0 {
		c.outbound.Push(item)
	}
	c.metrics.IncFragmentsSent()
	return frame
}

// Metrics returns a point-in-time snapshot of every counter (§6.3).
func (c *Core) Metrics() metrics.Snapshot {
	return c.metrics.Snapshot()
}

// QueueSizes returns the current length of every durable queue
// (§6.3).
func (c *Core) QueueSizes() map[string]int {
	return map[string]int{
		"outbound":     c.outbound.Len(),
		"retry":        c.retry.Len(),
		"confirmation": c.confirmations.Len(),
		"received":     c.received.Len(),
	}
}

// ReassemblyInfo reports the state of every in-flight incomplete
// fragment set (§6.3, §4.2).
func (c *Core) ReassemblyInfo() []reassembly.InfoRecord {
	return c.reassembly.ReassemblyInfo()
}

// NoncePrepare emits unsigned nonce-create transactions, at most
// txbuilder.MaxNoncesPerTx accounts each, for one account per entry of
// ephemeralPubkeys, paid by payerPubkey (§4.7 prepare, §6.3
// nonce.prepare). The caller is responsible for generating the
// ephemeral ephemeralPubkeys, co-signing with them, submitting the
// resulting transaction(s), and then calling NonceCache once the
// accounts exist on-chain.
func (c *Core) NoncePrepare(payerPubkey, authority solana.PublicKey, ephemeralPubkeys []solana.PublicKey, recentBlockhash solana.Hash) ([]*txbuilder.UnsignedTx, error) {
	var batches []*txbuilder.UnsignedTx
	for start := 0; start < len(ephemeralPubkeys); start += txbuilder.MaxNoncesPerTx {
		end := start + txbuilder.MaxNoncesPerTx
		if end > len(ephemeralPubkeys) {
			end = len(ephemeralPubkeys)
		}
		tx, err := txbuilder.UnsignedNonceCreateBatch(payerPubkey, authority, ephemeralPubkeys[start:end], recentBlockhash)
		if err != nil {
			return nil, err
		}
		batches = append(batches, tx)
	}
	return batches, nil
}

// NonceCache fetches on-chain state for each pubkey and inserts a
// CachedNonce for it (§6.3 nonce.cache).
func (c *Core) NonceCache(ctx context.Context, noncePubkeys [][32]byte) error {
	return c.nonces.Cache(ctx, noncePubkeys)
}

// NonceRefreshAll re-reads chain state for every cached nonce (§6.3
// nonce.refresh_all).
func (c *Core) NonceRefreshAll(ctx context.Context) error {
	return c.nonces.RefreshAll(ctx)
}

// NoncePickAvailable atomically claims one unused cached nonce (§6.3
// nonce.pick_available).
func (c *Core) NoncePickAvailable() (noncestore.CachedNonce, error) {
	return c.nonces.PickAvailable()
}

// BuildUnsignedSOL composes an unsigned SOL transfer anchored on
// nonce (§6.3 build.unsigned_sol).
func (c *Core) BuildUnsignedSOL(nonce noncestore.CachedNonce, authorityPubkey, from, to solana.PublicKey, lamports uint64) (*txbuilder.UnsignedTx, error) {
	return txbuilder.UnsignedSOLTransfer(nonce, authorityPubkey, from, to, lamports)
}

// BuildUnsignedSPL composes an unsigned SPL token transfer anchored on
// nonce (§6.3 build.unsigned_spl).
func (c *Core) BuildUnsignedSPL(nonce noncestore.CachedNonce, authorityPubkey, owner, sourceATA, mint, recipientWallet solana.PublicKey, amount uint64) (*txbuilder.UnsignedTx, error) {
	return txbuilder.UnsignedSPLTransfer(nonce, authorityPubkey, owner, sourceATA, mint, recipientWallet, amount)
}

// BuildUnsignedVote composes an unsigned governance vote anchored on
// nonce (§6.3 build.unsigned_vote).
func (c *Core) BuildUnsignedVote(nonce noncestore.CachedNonce, authorityPubkey, voter, proposal, voteRecord, governanceProgram solana.PublicKey, choice byte) (*txbuilder.UnsignedTx, error) {
	return txbuilder.UnsignedGovernanceVote(nonce, authorityPubkey, voter, proposal, voteRecord, governanceProgram, choice)
}

// BuildUnsignedNonceCreate composes an unsigned nonce-account creation
// batch (§6.3 build.unsigned_nonce_create).
func (c *Core) BuildUnsignedNonceCreate(payer, authority solana.PublicKey, noncePubkeys []solana.PublicKey, recentBlockhash solana.Hash) (*txbuilder.UnsignedTx, error) {
	return txbuilder.UnsignedNonceCreateBatch(payer, authority, noncePubkeys, recentBlockhash)
}

// BuildAddSignature fills in unsigned's signature slot for pubkey
// (§6.3 build.add_signature).
func (c *Core) BuildAddSignature(unsigned *txbuilder.UnsignedTx, pubkey solana.PublicKey, signature [64]byte) error {
	return txbuilder.AddSignature(unsigned, pubkey, signature)
}

// BuildRequiredSigners returns the ordered list of pubkeys that must
// sign unsigned before it is submittable (§6.3 build.required_signers).
func (c *Core) BuildRequiredSigners(unsigned *txbuilder.UnsignedTx) []solana.PublicKey {
	return txbuilder.RequiredSigners(unsigned)
}

// BuildMessageToSign returns the exact byte range the signer(s) must
// sign (§6.3 build.message_to_sign).
func (c *Core) BuildMessageToSign(unsigned *txbuilder.UnsignedTx) ([]byte, error) {
	return txbuilder.MessageToSign(unsigned)
}
