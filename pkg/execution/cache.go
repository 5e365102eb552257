package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"

	"github.com/endure/endure-sdk-go/pkg/stores"
)

// DefaultAcknowledgedCapacity bounds how many acknowledged records stay in
// memory for duplicate suppression.
const DefaultAcknowledgedCapacity = 4096

// CompletionStore persists terminal outcomes beyond the lifetime of the
// in-memory cache. Implementations must honour first-writer-wins on Put.
type CompletionStore interface {
	PutCompletion(ctx context.Context, c *stores.Completion) (bool, error)
	GetCompletion(ctx context.Context, key string) (*stores.Completion, error)
	AcknowledgeCompletion(ctx context.Context, key string, at time.Time) error
}

// CompletionCache maps identity keys to terminal records. Records whose
// outcome the engine has not acknowledged are pinned and never evicted;
// acknowledged records move to a bounded LRU tier.
type CompletionCache struct {
	mu     sync.RWMutex
	pinned map[string]*Record
	acked  *lru.Cache
	store  CompletionStore
	logger zerolog.Logger
}

// NewCompletionCache creates a cache keeping up to capacity acknowledged
// records. store may be nil.
func NewCompletionCache(capacity int, store CompletionStore, logger zerolog.Logger) (*CompletionCache, error) {
	if capacity <= 0 {
		capacity = DefaultAcknowledgedCapacity
	}
	acked, err := lru.New(capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create acknowledged tier: %w", err)
	}
	return &CompletionCache{
		pinned: make(map[string]*Record),
		acked:  acked,
		store:  store,
		logger: logger,
	}, nil
}

// Lookup returns the terminal record for key, consulting the durable store
// on a memory miss.
func (c *CompletionCache) Lookup(ctx context.Context, key string) (*Record, bool, error) {
	c.mu.RLock()
	rec, ok := c.pinned[key]
	c.mu.RUnlock()
	if ok {
		return rec, true, nil
	}
	if v, ok := c.acked.Get(key); ok {
		return v.(*Record), true, nil
	}
	if c.store == nil {
		return nil, false, nil
	}

	stored, err := c.store.GetCompletion(ctx, key)
	if errors.Is(err, stores.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read completion %s: %w", key, err)
	}

	rec = restoredRecord(outcomeFromCompletion(stored), stored.AcknowledgedAt != nil)
	c.remember(rec)
	return rec, true, nil
}

// Put stores a terminal record. The first writer for a key wins: if a
// terminal record already exists, in memory or in the durable store, it is
// returned instead and rec is discarded.
func (c *CompletionCache) Put(ctx context.Context, rec *Record) (*Record, error) {
	out, ok := rec.Outcome()
	if !ok {
		return nil, fmt.Errorf("%w: %s has no terminal outcome", ErrInvalidTransition, rec.Identity.Key())
	}
	key := rec.Identity.Key()

	c.mu.Lock()
	if existing, ok := c.pinned[key]; ok {
		c.mu.Unlock()
		return existing, nil
	}
	if v, ok := c.acked.Get(key); ok {
		c.mu.Unlock()
		return v.(*Record), nil
	}
	c.pinned[key] = rec
	c.mu.Unlock()

	if c.store == nil {
		return rec, nil
	}

	completion, err := completionFromOutcome(out)
	if err != nil {
		return rec, err
	}
	inserted, err := c.store.PutCompletion(ctx, completion)
	if err != nil {
		return rec, fmt.Errorf("failed to persist completion %s: %w", key, err)
	}
	if inserted {
		return rec, nil
	}

	// Another process recorded this identity first.
	stored, err := c.store.GetCompletion(ctx, key)
	if err != nil {
		return rec, fmt.Errorf("failed to read completion %s: %w", key, err)
	}
	winner := restoredRecord(outcomeFromCompletion(stored), stored.AcknowledgedAt != nil)
	c.mu.Lock()
	delete(c.pinned, key)
	c.mu.Unlock()
	c.remember(winner)
	c.logger.Warn().Str("identity", key).Msg("Completion already recorded by another writer")
	return winner, nil
}

// Acknowledge marks the record for key as received by the engine, making it
// evictable. It reports whether a record was found.
func (c *CompletionCache) Acknowledge(ctx context.Context, key string) (bool, error) {
	// The record enters the acknowledged tier before it leaves the pinned
	// one, so a concurrent Lookup always finds it in one of them.
	c.mu.Lock()
	rec, ok := c.pinned[key]
	if ok {
		c.acked.Add(key, rec)
		delete(c.pinned, key)
	}
	c.mu.Unlock()
	if !ok {
		return c.acked.Contains(key), nil
	}

	if err := rec.acknowledge(ctx); err != nil {
		c.logger.Debug().Err(err).Str("identity", key).Msg("Record not acknowledgeable")
	}

	if c.store != nil {
		if err := c.store.AcknowledgeCompletion(ctx, key, time.Now()); err != nil && !errors.Is(err, stores.ErrNotFound) {
			return true, fmt.Errorf("failed to acknowledge completion %s: %w", key, err)
		}
	}
	return true, nil
}

// Pinned returns the number of terminal records awaiting acknowledgment.
func (c *CompletionCache) Pinned() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pinned)
}

// Len returns the number of records held in memory.
func (c *CompletionCache) Len() int {
	return c.Pinned() + c.acked.Len()
}

func (c *CompletionCache) remember(rec *Record) {
	key := rec.Identity.Key()
	if rec.Acknowledged() {
		c.acked.Add(key, rec)
		return
	}
	c.mu.Lock()
	if _, ok := c.pinned[key]; !ok {
		c.pinned[key] = rec
	}
	c.mu.Unlock()
}

func completionFromOutcome(out Outcome) (*stores.Completion, error) {
	c := &stores.Completion{
		Key:                out.Identity.Key(),
		WorkflowInstanceID: out.Identity.WorkflowInstanceID,
		BaseName:           out.Identity.BaseName,
		CustomName:         out.Identity.CustomName,
		FanOutIndex:        out.Identity.FanOutIndex,
		Status:             string(out.Status),
		Attempts:           out.Attempts,
		CompletedAt:        out.CompletedAt,
	}

	switch v := out.Value.(type) {
	case nil:
	case json.RawMessage:
		c.Output = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode output of %s: %w", c.Key, err)
		}
		c.Output = data
	}

	if out.Err != nil {
		c.ErrorKind = string(KindOf(out.Err))
		c.ErrorMessage = out.Err.Error()
		var ae *ActionError
		if errors.As(out.Err, &ae) {
			c.ErrorMessage = ae.Message
		}
	}
	return c, nil
}

func outcomeFromCompletion(c *stores.Completion) Outcome {
	out := Outcome{
		Identity: Identity{
			WorkflowInstanceID: c.WorkflowInstanceID,
			BaseName:           c.BaseName,
			CustomName:         c.CustomName,
			FanOutIndex:        c.FanOutIndex,
		},
		Status:      Status(c.Status),
		Attempts:    c.Attempts,
		CompletedAt: c.CompletedAt,
	}
	if len(c.Output) > 0 {
		out.Value = json.RawMessage(c.Output)
	}
	if c.ErrorKind != "" || c.ErrorMessage != "" {
		kind := ErrorKind(c.ErrorKind)
		if kind == "" {
			kind = KindRetryExhausted
		}
		out.Err = &ActionError{
			Kind:     kind,
			Identity: c.Key,
			Attempt:  c.Attempts,
			Message:  c.ErrorMessage,
			Err:      errors.New(c.ErrorMessage),
		}
	}
	return out
}
