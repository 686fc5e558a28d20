// Copyright (c) 2024 The pollinet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package persistence implements the C9 persistence layer: a
// versioned, crash-safe snapshot of every durable queue and store,
// written atomically and autosaved on a debounced timer (§4.9).
package persistence

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/pollinet/pollinet-sub003/dedup"
	"github.com/pollinet/pollinet-sub003/logger"
	"github.com/pollinet/pollinet-sub003/noncestore"
	"github.com/pollinet/pollinet-sub003/queueset"
	"github.com/pollinet/pollinet-sub003/relayerrors"
)

var log, _ = logger.Get(logger.SubsystemTags.PERS)

// CurrentSchemaVersion is bumped whenever the Snapshot layout changes
// in a way old readers cannot interpret. Load refuses to proceed on a
// mismatch rather than risk silently misreading fields (§4.9).
const CurrentSchemaVersion = 1

// DefaultAutosaveInterval is the design default debounce window
// (§4.9, §6.4).
const DefaultAutosaveInterval = 5 * time.Second

// Snapshot is the on-disk representation of every durable component's
// state (§4.9).
type Snapshot struct {
	SchemaVersion int                        `json:"schema_version"`
	Outbound      []*queueset.OutboundItem   `json:"outbound"`
	Retry         []*queueset.RetryItem      `json:"retry"`
	Confirmation  []*queueset.Confirmation   `json:"confirmation"`
	Received      []*queueset.ReceivedItem   `json:"received"`
	Dedup         []dedup.Entry              `json:"dedup"`
	Nonces        []noncestore.CachedNonce   `json:"nonces"`
}

// Components bundles the live objects Store reads from and restores
// into.
type Components struct {
	Outbound      *queueset.Outbound
	Retry         *queueset.Retry
	Confirmation  *queueset.ConfirmationQueue
	Received      *queueset.Received
	Dedup         *dedup.Ledger
	Nonces        *noncestore.Store
}

// Store owns the debounced-autosave state machine described in §4.9:
// every mutation marks the layer dirty; a background loop flushes to
// disk no more often than once per AutosaveInterval.
type Store struct {
	path             string
	components       Components
	autosaveInterval time.Duration

	mu      sync.Mutex
	dirty   bool
	closeCh chan struct{}
	doneCh  chan struct{}
}

// New creates a Store that persists to path. Call Run to start the
// autosave loop.
func New(path string, components Components, autosaveInterval time.Duration) *Store {
	if autosaveInterval <= 0 {
		autosaveInterval = DefaultAutosaveInterval
	}
	return &Store{
		path:             path,
		components:       components,
		autosaveInterval: autosaveInterval,
		closeCh:          make(chan struct{}),
		doneCh:           make(chan struct{}),
	}
}

// MarkDirty records that some component mutated state since the last
// save. Callers invoke this after every Push/Pop/mark operation
// (§4.9: "each mutating queue/store operation marks the layer
// dirty").
func (s *Store) MarkDirty() {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
}

// Run starts the debounced autosave loop. It returns once Close is
// called, after a final save.
func (s *Store) Run() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.autosaveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			dirty := s.dirty
			s.mu.Unlock()
			if dirty {
				if err := s.ForceSave(); err != nil {
					log.Errorf("autosave failed: %s", err)
				}
			}
		case <-s.closeCh:
			if err := s.ForceSave(); err != nil {
				log.Errorf("final save on shutdown failed: %s", err)
			}
			return
		}
	}
}

// Close stops the autosave loop after one final save and waits for it
// to finish.
func (s *Store) Close() {
	close(s.closeCh)
	<-s.doneCh
}

// ForceSave writes a snapshot immediately, bypassing the debounce
// window. Shutdown paths call this directly so no last-second
// mutation is lost (§4.9).
func (s *Store) ForceSave() error {
	snap := Snapshot{
		SchemaVersion: CurrentSchemaVersion,
		Outbound:      s.components.Outbound.Snapshot(),
		Retry:         s.components.Retry.Snapshot(),
		Confirmation:  s.components.Confirmation.Snapshot(),
		Received:      s.components.Received.Snapshot(),
		Dedup:         s.components.Dedup.Snapshot(),
		Nonces:        s.components.Nonces.Snapshot(),
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "marshaling snapshot")
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return err
	}

	s.mu.Lock()
	s.dirty = false
	s.mu.Unlock()
	log.Debugf("persisted snapshot to %s", s.path)
	return nil
}

// Load reads path and restores every component's contents in place.
// A schema version mismatch is reported via relayerrors.ErrSchemaVersion
// rather than attempting a best-effort partial read (§4.9).
func (s *Store) Load() error {
	data, err := readFile(s.path)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return errors.Wrap(err, "unmarshaling snapshot")
	}
	if snap.SchemaVersion != CurrentSchemaVersion {
		return errors.Wrapf(relayerrors.ErrSchemaVersion, "snapshot version %d, expected %d", snap.SchemaVersion, CurrentSchemaVersion)
	}

	s.components.Outbound.Restore(snap.Outbound)
	s.components.Retry.Restore(snap.Retry)
	s.components.Confirmation.Restore(snap.Confirmation)
	s.components.Received.Restore(snap.Received)
	s.components.Dedup.Restore(snap.Dedup)
	s.components.Nonces.Restore(snap.Nonces)
	return nil
}
