package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	ErrObjectNotFound = errors.New("object not found")
	ErrInvalidRef     = errors.New("unrecognised document reference")
)

// Blobs is a keyed binary object store.
type Blobs interface {
	// Scheme is the URL scheme of the references Put returns.
	Scheme() string
	Put(ctx context.Context, key string, data []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Memory keeps objects in process memory. References use the memory://
// scheme and do not survive a restart.
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

func (m *Memory) Scheme() string { return "memory" }

func (m *Memory) Put(_ context.Context, key string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	return "memory://" + key, nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrObjectNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// InvoiceStore persists generated invoice PDFs under invoices/<id>.pdf. Writes
// go to the durable store when one is configured and fall back to the
// ephemeral one when it is missing or failing.
type InvoiceStore struct {
	durable   Blobs
	ephemeral Blobs
	log       logrus.FieldLogger
}

// NewInvoiceStore builds a store over durable, which may be nil.
func NewInvoiceStore(durable Blobs, log logrus.FieldLogger) *InvoiceStore {
	return &InvoiceStore{durable: durable, ephemeral: NewMemory(), log: log}
}

// Save stores the document and returns its reference. durable is false when
// the document only landed in the ephemeral store.
func (s *InvoiceStore) Save(ctx context.Context, invoiceID string, pdf []byte) (ref string, durable bool, err error) {
	return s.put(ctx, invoiceID, InvoiceKey(invoiceID), pdf)
}

// SaveRevision is Save for a re-issued document, stored beside the current one.
func (s *InvoiceStore) SaveRevision(ctx context.Context, invoiceID, revision string, pdf []byte) (ref string, durable bool, err error) {
	return s.put(ctx, invoiceID, RevisionKey(invoiceID, revision), pdf)
}

func (s *InvoiceStore) put(ctx context.Context, invoiceID, key string, pdf []byte) (ref string, durable bool, err error) {
	if s.durable != nil {
		ref, err := s.durable.Put(ctx, key, pdf)
		if err == nil {
			return ref, true, nil
		}
		s.log.WithError(err).WithField("invoice_id", invoiceID).Warn("durable invoice upload failed, keeping ephemeral copy")
	}
	ref, err = s.ephemeral.Put(ctx, key, pdf)
	if err != nil {
		return "", false, fmt.Errorf("failed to store invoice %s: %w", invoiceID, err)
	}
	return ref, false, nil
}

// Open reads a document by the reference Save returned.
func (s *InvoiceStore) Open(ctx context.Context, ref string) ([]byte, error) {
	store, key, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	return store.Get(ctx, key)
}

// Remove deletes a document by reference.
func (s *InvoiceStore) Remove(ctx context.Context, ref string) error {
	store, key, err := s.resolve(ref)
	if err != nil {
		return err
	}
	return store.Delete(ctx, key)
}

func (s *InvoiceStore) resolve(ref string) (Blobs, string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	switch {
	case u.Scheme == s.ephemeral.Scheme():
		return s.ephemeral, u.Host + u.Path, nil
	case s.durable != nil && u.Scheme == s.durable.Scheme():
		// s3://<bucket>/<key>
		return s.durable, strings.TrimPrefix(u.Path, "/"), nil
	}
	return nil, "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
}
