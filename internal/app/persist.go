package app

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PersistenceGateway mirrors the in-memory tree into the durable store.
// The running session treats memory as the source of truth: every call here
// is fire-and-forget, logged on failure and otherwise ignored.
//
// Each submission carries a per-assistant monotonic sequence number. The
// backend overwrites whole snapshots, so a completion observed for a stale
// sequence is simply discarded instead of merged.
type PersistenceGateway struct {
	store   *EntityStore
	backend AssistantStore
	logger  *zap.Logger
	timeout time.Duration

	mu        sync.Mutex
	issued    map[string]uint64
	completed map[string]uint64

	wg sync.WaitGroup
}

func NewPersistenceGateway(store *EntityStore, backend AssistantStore, logger *zap.Logger) *PersistenceGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PersistenceGateway{
		store:     store,
		backend:   backend,
		logger:    logger,
		timeout:   30 * time.Second,
		issued:    make(map[string]uint64),
		completed: make(map[string]uint64),
	}
}

// LoadAll reads the persisted assistant list once at startup. An error
// degrades to an empty list so the entity store can bootstrap a default.
func (g *PersistenceGateway) LoadAll(ctx context.Context) []Assistant {
	loaded, err := g.backend.LoadAssistants(ctx)
	if err != nil {
		g.logger.Error("load assistants failed", zap.Error(err))
		return nil
	}
	return loaded
}

// SaveAssistant snapshots the assistant subtree and submits it
// asynchronously. Overlapping saves for the same id are fine; the newest
// sequence number wins at the backend by full overwrite.
func (g *PersistenceGateway) SaveAssistant(assistantID string) {
	snapshot, ok := g.store.AssistantSnapshot(assistantID)
	if !ok {
		return
	}

	g.mu.Lock()
	g.issued[assistantID]++
	seq := g.issued[assistantID]
	g.mu.Unlock()

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
		defer cancel()
		err := g.backend.SaveAssistant(ctx, snapshot)

		g.mu.Lock()
		stale := seq <= g.completed[assistantID]
		if !stale {
			g.completed[assistantID] = seq
		}
		g.mu.Unlock()

		if err != nil {
			g.logger.Error("save assistant failed",
				zap.String("assistant_id", assistantID),
				zap.Uint64("seq", seq),
				zap.Error(err))
			return
		}
		if stale {
			g.logger.Debug("stale save completion ignored",
				zap.String("assistant_id", assistantID),
				zap.Uint64("seq", seq))
		}
	}()
}

// DeleteAssistant requests cascade deletion of the persisted snapshot.
func (g *PersistenceGateway) DeleteAssistant(assistantID string) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
		defer cancel()
		if err := g.backend.DeleteAssistant(ctx, assistantID); err != nil {
			g.logger.Error("delete assistant failed",
				zap.String("assistant_id", assistantID),
				zap.Error(err))
		}
	}()
}

// Wait blocks until all in-flight persistence calls finish. Used on
// shutdown and by tests.
func (g *PersistenceGateway) Wait() {
	g.wg.Wait()
}
