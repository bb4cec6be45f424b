package checkpoint

import (
	"context"
	"sync"

	"github.com/fluxorch/engine/internal/enginerr"
	"github.com/fluxorch/engine/pkg/models"
)

// Store persists and retrieves a Blob by execution ID. Save overwrites any
// existing checkpoint for the same execution; Load returns
// (Blob{}, false, nil) — not an error — when no checkpoint exists, matching
// spec's "load -> state_blob | None" contract.
type Store interface {
	Save(ctx context.Context, executionID string, blob Blob) error
	Load(ctx context.Context, executionID string) (Blob, bool, error)
	Delete(ctx context.Context, executionID string) error
}

// MemoryStore is the in-memory default Store, the production fallback when
// no durable backend is configured. A process restart loses every
// checkpoint held here — durable resumption requires SQLStore or PGStore.
type MemoryStore struct {
	mu     sync.RWMutex
	blobs  map[string]Blob
	signer *Signer // optional; nil means blobs are kept as plain structs
}

// NewMemoryStore constructs an empty MemoryStore. signer may be nil.
func NewMemoryStore(signer *Signer) *MemoryStore {
	return &MemoryStore{blobs: make(map[string]Blob), signer: signer}
}

func (s *MemoryStore) Save(_ context.Context, executionID string, blob Blob) error {
	if executionID == "" {
		return enginerr.Classify(models.ErrorKindValidation, "execution id is required", nil)
	}
	if s.signer != nil {
		// Round-trip through the signer even for the in-memory store so a
		// tampered or forged blob is caught the same way a durable store's
		// would be, rather than only at the boundary where it matters.
		token, err := s.signer.Sign(blob)
		if err != nil {
			return err
		}
		verified, err := s.signer.Verify(token)
		if err != nil {
			return err
		}
		blob = verified
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[executionID] = blob
	return nil
}

func (s *MemoryStore) Load(_ context.Context, executionID string) (Blob, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[executionID]
	if !ok {
		return Blob{}, false, nil
	}
	return b, true, nil
}

func (s *MemoryStore) Delete(_ context.Context, executionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, executionID)
	return nil
}
