// Package store implements the bundle processor's in-memory bundle store.
// Per the specification's explicit Non-goal, there is no durable storage
// across restarts — the teacher's badgerhold-backed on-disk Store is
// reimplemented here over a plain map, guarded by a soft byte-size limit.
//
// Grounded on storage/store.go's API shape (Push/QueryId/QueryPending/
// DeleteExpired), with a mutex in place of badgerhold's own transaction
// handling.
package store

import (
	"bytes"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/ulikunitz/xz"

	"github.com/d3tn/bpnode/internal/bpv7"
)

// compressionThreshold is the payload size above which Put keeps an
// ulikunitz/xz-compressed copy of a stored bundle's payload and counts the
// copy's size, not the raw payload's, against SoftLimitBytes. The
// uncompressed bundle stays in the record and is what Get returns; nothing
// decompresses the copy.
const compressionThreshold = 4096

type record struct {
	bundle     *bpv7.Bundle
	externalID string

	compressedPayload []byte // non-nil if the payload was compressed at rest
}

// Store is the processor's sole bundle repository: in-memory, soft-limited,
// never touched outside the processor's goroutine except for metrics reads.
type Store struct {
	mu sync.Mutex

	idSrc   func() bpv7.BundleID
	records map[bpv7.BundleID]*record
	byExt   map[string]bpv7.BundleID

	SoftLimitBytes int64
	usedBytes      int64
}

// New creates an empty Store. softLimitBytes bounds total resident payload
// size (0 = unbounded); callers exceeding it get a log warning but are not
// rejected — the spec leaves enforcement as a soft cap, not a hard quota.
func New(softLimitBytes int64) *Store {
	idSrc := bpv7.NewBundleIDSource()
	return &Store{
		idSrc:          idSrc.Next,
		records:        make(map[bpv7.BundleID]*record),
		byExt:          make(map[string]bpv7.BundleID),
		SoftLimitBytes: softLimitBytes,
	}
}

// Put stores b, assigning and returning a fresh BundleID.
func (s *Store) Put(b *bpv7.Bundle) bpv7.BundleID {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.idSrc()
	rec := &record{bundle: b, externalID: b.ID()}

	size := b.PayloadSize()
	if size > compressionThreshold {
		if compressed, err := compressPayload(b); err == nil {
			rec.compressedPayload = compressed
			size = int64(len(compressed))
		} else {
			log.WithError(err).WithField("bundle", rec.externalID).Warn("store: payload compression failed, storing raw")
		}
	}

	s.records[id] = rec
	s.byExt[rec.externalID] = id
	s.usedBytes += size

	if s.SoftLimitBytes > 0 && s.usedBytes > s.SoftLimitBytes {
		log.WithFields(log.Fields{
			"used":  s.usedBytes,
			"limit": s.SoftLimitBytes,
		}).Warn("store: soft byte limit exceeded")
	}

	return id
}

// Get returns the bundle stored under id.
func (s *Store) Get(id bpv7.BundleID) (*bpv7.Bundle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, false
	}
	return rec.bundle, true
}

// FindByExternalID looks up a bundle by its (source, creation timestamp,
// fragment offset) external identity, for BUNDLE_RECEIVED duplicate checks.
func (s *Store) FindByExternalID(externalID string) (bpv7.BundleID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byExt[externalID]
	return id, ok
}

// Delete removes a bundle from the store.
func (s *Store) Delete(id bpv7.BundleID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return
	}
	delete(s.records, id)
	delete(s.byExt, rec.externalID)

	size := rec.bundle.PayloadSize()
	if rec.compressedPayload != nil {
		size = int64(len(rec.compressedPayload))
	}
	s.usedBytes -= size
}

// Len reports how many bundles currently reside in the store.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func compressPayload(b *bpv7.Bundle) ([]byte, error) {
	pb, err := b.PayloadBlock()
	if err != nil {
		return nil, err
	}
	payload, ok := pb.Value.(*bpv7.PayloadBlock)
	if !ok {
		return nil, err
	}

	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(payload.Data()); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
