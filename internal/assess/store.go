package assess

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/mbd888/tokenrisk/internal/pagination"
)

// DefaultListLimit applies when a list call passes no positive limit.
const DefaultListLimit = 50

// ListOption configures optional parameters for list queries.
type ListOption func(*listOpts)

type listOpts struct {
	cursor *pagination.Cursor
}

func applyListOpts(opts []ListOption) listOpts {
	var o listOpts
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// WithCursor restricts results to outcomes after the given cursor position
// in newest-first order. An invalid cursor is ignored.
func WithCursor(cursor string) ListOption {
	return func(o *listOpts) {
		c, err := pagination.Decode(cursor)
		if err == nil {
			o.cursor = c
		}
	}
}

// Store persists terminal outcomes for audit and lookup.
type Store interface {
	Save(ctx context.Context, o *Outcome) error
	Get(ctx context.Context, id string) (*Outcome, error)
	// ListByToken returns outcomes for a token, newest request first.
	ListByToken(ctx context.Context, chain, token string, limit int, opts ...ListOption) ([]*Outcome, error)
}

// PageKey is the pagination key of an outcome.
func PageKey(o *Outcome) (time.Time, string) {
	return o.Request.RequestedAt, o.Request.ID
}

// MemoryStore is an in-memory implementation of Store for CLI and test use.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string][]byte
	byToken map[string][]string // chain/token → ids, oldest first
}

// NewMemoryStore creates an in-memory outcome store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string][]byte),
		byToken: make(map[string][]string),
	}
}

// Save stores an encoded copy so later changes by the caller cannot leak in.
func (s *MemoryStore) Save(ctx context.Context, o *Outcome) error {
	data, err := json.Marshal(o)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := o.Request.ID
	if _, exists := s.byID[id]; !exists {
		key := tokenKey(o.Request.Chain, o.Request.Token)
		s.byToken[key] = append(s.byToken[key], id)
	}
	s.byID[id] = data
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Outcome, error) {
	s.mu.RLock()
	data, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return decodeOutcome(data)
}

func (s *MemoryStore) ListByToken(ctx context.Context, chain, token string, limit int, opts ...ListOption) ([]*Outcome, error) {
	lo := applyListOpts(opts)
	if limit <= 0 {
		limit = DefaultListLimit
	}

	s.mu.RLock()
	ids := append([]string(nil), s.byToken[tokenKey(chain, token)]...)
	blobs := make([][]byte, 0, len(ids))
	for _, id := range ids {
		blobs = append(blobs, s.byID[id])
	}
	s.mu.RUnlock()

	result := make([]*Outcome, 0, len(blobs))
	for _, data := range blobs {
		o, err := decodeOutcome(data)
		if err != nil {
			return nil, err
		}
		if lo.cursor != nil && !before(o, lo.cursor) {
			continue
		}
		result = append(result, o)
	}

	// Most recent first, id breaks ties
	sort.Slice(result, func(i, j int) bool {
		ti, tj := result[i].Request.RequestedAt, result[j].Request.RequestedAt
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return result[i].Request.ID > result[j].Request.ID
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// before reports whether o sorts after the cursor in newest-first order.
func before(o *Outcome, c *pagination.Cursor) bool {
	at := o.Request.RequestedAt
	return at.Before(c.At) || (at.Equal(c.At) && o.Request.ID < c.ID)
}

func decodeOutcome(data []byte) (*Outcome, error) {
	var o Outcome
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func tokenKey(chain, token string) string {
	return chain + "/" + token
}
