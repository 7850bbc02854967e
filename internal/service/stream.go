package service

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leventea/orchid/internal/domain"
	"github.com/leventea/orchid/internal/domain/plan"
	"github.com/leventea/orchid/internal/domain/stream"
	"github.com/leventea/orchid/internal/storage"
)

// streamRegistryPath is the fixed relative path of the persisted registry.
const streamRegistryPath = "streams.json"

// WorktreeManager is the subset of git operations stream coordination needs.
type WorktreeManager interface {
	Add(ctx context.Context, path, branch string) error
	Remove(ctx context.Context, path string) error
	Merge(ctx context.Context, branch string) error
	AbortMerge(ctx context.Context) error
	DeleteBranch(ctx context.Context, branch string) error
}

// StreamService coordinates independent lines of work, each in its own git
// worktree. Cross-stream ordering reuses the task wave scheduler, and every
// lifecycle transition is persisted immediately so state survives a restart.
type StreamService struct {
	store       *storage.SafeStore
	trees       WorktreeManager
	worktreeDir string

	mu      sync.Mutex
	streams []stream.WorkStream
}

// NewStreamService creates a StreamService persisting through store and
// provisioning isolated environments through trees.
func NewStreamService(store *storage.SafeStore, trees WorktreeManager, worktreeDir string) *StreamService {
	return &StreamService{store: store, trees: trees, worktreeDir: worktreeDir}
}

// Load reads the persisted registry and merges it by ID over any streams
// already known in memory. Called once at startup.
func (s *StreamService) Load(_ context.Context) error {
	var persisted []stream.WorkStream
	if _, err := s.store.ReadJSON(streamRegistryPath, &persisted); err != nil {
		return fmt.Errorf("read stream registry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams = stream.Merge(s.streams, persisted)
	slog.Info("stream registry loaded", "count", len(s.streams))
	return nil
}

// Create provisions an isolated worktree and registers a new stream as
// initializing.
func (s *StreamService) Create(ctx context.Context, name string, dependsOn []string) (*stream.WorkStream, error) {
	if err := validStreamName(name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.streams {
		if s.streams[i].Name == name && !s.streams[i].Terminal() {
			return nil, fmt.Errorf("stream %q already active: %w", name, domain.ErrConflict)
		}
	}
	for _, dep := range dependsOn {
		if s.findLocked(dep) == nil {
			return nil, fmt.Errorf("stream dependency %s: %w", dep, domain.ErrNotFound)
		}
	}

	now := time.Now()
	ws := stream.WorkStream{
		ID:           uuid.NewString(),
		Name:         name,
		Branch:       "stream/" + name,
		WorktreePath: filepath.Join(s.worktreeDir, name),
		Status:       stream.StatusInitializing,
		DependsOn:    dependsOn,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.trees.Add(ctx, ws.WorktreePath, ws.Branch); err != nil {
		return nil, fmt.Errorf("provision worktree for %s: %w", name, err)
	}

	s.streams = append(s.streams, ws)
	if err := s.persistLocked(); err != nil {
		return nil, err
	}

	slog.Info("stream created", "stream_id", ws.ID, "name", name, "branch", ws.Branch)
	return &ws, nil
}

// Start transitions a stream to active.
func (s *StreamService) Start(_ context.Context, id string) (*stream.WorkStream, error) {
	return s.transition(id, stream.StatusActive)
}

// Pause suspends an active stream back to initializing.
func (s *StreamService) Pause(_ context.Context, id string) (*stream.WorkStream, error) {
	return s.transition(id, stream.StatusInitializing)
}

// Complete merges the stream's branch back. On success the stream ends
// completed and its environment is reclaimed; on merge failure it ends
// failed and the worktree is kept for inspection.
func (s *StreamService) Complete(ctx context.Context, id string) (*stream.WorkStream, error) {
	s.mu.Lock()
	ws := s.findLocked(id)
	if ws == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("stream %s: %w", id, domain.ErrNotFound)
	}
	if err := ws.Transition(stream.StatusMerging); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	branch, path := ws.Branch, ws.WorktreePath
	if err := s.persistLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	// The merge shells out to git and can run long. It happens outside the
	// lock so other streams stay readable; the merging status recorded above
	// keeps concurrent transitions off this stream meanwhile.
	mergeErr := s.trees.Merge(ctx, branch)
	if mergeErr != nil {
		slog.Error("stream merge failed", "stream_id", id, "branch", branch, "error", mergeErr)
		if abortErr := s.trees.AbortMerge(ctx); abortErr != nil {
			slog.Warn("merge abort failed", "stream_id", id, "error", abortErr)
		}
	}

	s.mu.Lock()
	// Re-find: the registry may have been appended to while the merge ran,
	// so the earlier pointer cannot be trusted.
	ws = s.findLocked(id)
	if ws == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("stream %s: %w", id, domain.ErrNotFound)
	}
	if mergeErr != nil {
		_ = ws.Transition(stream.StatusFailed)
		if perr := s.persistLocked(); perr != nil {
			s.mu.Unlock()
			return nil, perr
		}
		out := *ws
		s.mu.Unlock()
		return &out, fmt.Errorf("merge stream %s: %w", id, mergeErr)
	}
	_ = ws.Transition(stream.StatusCompleted)
	if err := s.persistLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	out := *ws
	s.mu.Unlock()

	// Environment reclaim is best-effort once the merge has landed.
	if err := s.trees.Remove(ctx, path); err != nil {
		slog.Warn("worktree removal failed", "stream_id", id, "error", err)
	}
	if err := s.trees.DeleteBranch(ctx, branch); err != nil {
		slog.Warn("branch cleanup failed", "stream_id", id, "error", err)
	}

	slog.Info("stream completed", "stream_id", id, "branch", branch)
	return &out, nil
}

// Cleanup reclaims a stream's environment without merging, for abandoned
// or failed streams.
func (s *StreamService) Cleanup(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ws := s.findLocked(id)
	if ws == nil {
		return fmt.Errorf("stream %s: %w", id, domain.ErrNotFound)
	}
	if err := s.trees.Remove(ctx, ws.WorktreePath); err != nil {
		return fmt.Errorf("remove worktree for %s: %w", id, err)
	}
	if !ws.Terminal() {
		ws.Status = stream.StatusFailed
		ws.UpdatedAt = time.Now()
	}
	slog.Info("stream environment reclaimed", "stream_id", id)
	return s.persistLocked()
}

// Get returns the stream with the given ID.
func (s *StreamService) Get(_ context.Context, id string) (*stream.WorkStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws := s.findLocked(id)
	if ws == nil {
		return nil, fmt.Errorf("stream %s: %w", id, domain.ErrNotFound)
	}
	out := *ws
	return &out, nil
}

// List returns all registered streams.
func (s *StreamService) List(_ context.Context) []stream.WorkStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]stream.WorkStream, len(s.streams))
	copy(out, s.streams)
	return out
}

// Waves returns the cross-stream execution order: streams-as-tasks run
// through the same wave scheduler used for tasks.
func (s *StreamService) Waves(_ context.Context) ([]plan.Wave, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return plan.ComputeWaves(stream.ToPlan(s.streams))
}

func (s *StreamService) transition(id string, next stream.Status) (*stream.WorkStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ws := s.findLocked(id)
	if ws == nil {
		return nil, fmt.Errorf("stream %s: %w", id, domain.ErrNotFound)
	}
	if err := ws.Transition(next); err != nil {
		return nil, err
	}
	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	slog.Info("stream transition", "stream_id", id, "status", next)
	out := *ws
	return &out, nil
}

func (s *StreamService) findLocked(id string) *stream.WorkStream {
	for i := range s.streams {
		if s.streams[i].ID == id {
			return &s.streams[i]
		}
	}
	return nil
}

func (s *StreamService) persistLocked() error {
	return s.store.WriteJSON(streamRegistryPath, s.streams)
}

func validStreamName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: stream name is required", domain.ErrValidation)
	}
	if len(name) > 64 {
		return fmt.Errorf("%w: stream name too long (max 64 chars)", domain.ErrValidation)
	}
	if strings.ContainsAny(name, `/\:*?"<>| `) || strings.Contains(name, "..") {
		return fmt.Errorf("%w: stream name %q contains invalid characters", domain.ErrValidation, name)
	}
	return nil
}
