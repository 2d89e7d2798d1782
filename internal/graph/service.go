package graph

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/emergent/loom/internal/events"
	"github.com/emergent/loom/internal/lineage"
	"github.com/emergent/loom/internal/schema"
	"github.com/emergent/loom/internal/store"
)

// DefaultValueLimit is the stored-value size bound in bytes. String leaves
// larger than this are displaced into the overflow table and replaced by
// digest nodes before hashing and diffing.
const DefaultValueLimit = 4096

// Service is the write and read face of the object graph. All mutations
// go through it: it validates, serializes contending writers, computes
// hashes and change summaries, and appends immutable version rows.
type Service struct {
	store      *store.Store
	lineage    *lineage.Service
	registry   *schema.Registry
	bus        *events.Bus
	locks      *keyLocks
	clock      func() time.Time
	ids        IDGenerator
	actor      string
	valueLimit int
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the wall clock. Tests use this for deterministic
// timestamps.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) { s.clock = fn }
}

// WithIDGenerator overrides the id generator. Tests use this for
// deterministic ids.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Service) { s.ids = g }
}

// WithRegistry sets the schema registry used to validate properties.
// Without a registry all property trees are accepted.
func WithRegistry(r *schema.Registry) Option {
	return func(s *Service) { s.registry = r }
}

// WithBus sets the event bus notified after successful writes.
func WithBus(b *events.Bus) Option {
	return func(s *Service) { s.bus = b }
}

// WithActor sets the identity recorded as created_by on new versions.
func WithActor(name string) Option {
	return func(s *Service) { s.actor = name }
}

// WithValueLimit sets the stored-value size bound in bytes. Zero or below
// disables overflow truncation.
func WithValueLimit(n int) Option {
	return func(s *Service) { s.valueLimit = n }
}

// New creates a graph service over the given store and lineage resolver.
func New(st *store.Store, lin *lineage.Service, opts ...Option) *Service {
	s := &Service{
		store:      st,
		lineage:    lin,
		locks:      newKeyLocks(),
		clock:      time.Now,
		ids:        UUIDGenerator{},
		valueLimit: DefaultValueLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BranchRequest describes a branch to create. ParentBranchID empty means a
// root branch.
type BranchRequest struct {
	OrgID          string
	ProjectID      string
	Name           string
	ParentBranchID string
	IsDefault      bool
}

// CreateBranch creates a branch and its ancestor closure, then emits a
// branch.created event.
func (s *Service) CreateBranch(ctx context.Context, req BranchRequest) (store.Branch, error) {
	b := store.Branch{
		ID:        s.ids.NewID(),
		OrgID:     req.OrgID,
		ProjectID: req.ProjectID,
		Name:      req.Name,
		IsDefault: req.IsDefault,
		CreatedAt: s.clock().UTC(),
	}
	if req.ParentBranchID != "" {
		parent := req.ParentBranchID
		b.ParentBranchID = &parent
	}

	created, err := s.lineage.CreateBranch(ctx, b)
	if err != nil {
		return store.Branch{}, err
	}

	s.emit(events.Event{
		Type:     events.BranchCreated,
		BranchID: created.ID,
		At:       created.CreatedAt,
	})
	return created, nil
}

// emit publishes e when a bus is configured.
func (s *Service) emit(e events.Event) {
	if s.bus != nil {
		s.bus.Emit(e)
	}
}

// validateProperties checks props against the registered schema for the
// type. Types without a schema pass; a missing registry skips validation
// entirely.
func (s *Service) validateProperties(objectType string, props map[string]any) error {
	if s.registry == nil {
		return nil
	}
	violations := s.registry.Validate(objectType, props)
	if len(violations) == 0 {
		return nil
	}
	msgs := make([]string, len(violations))
	for i, v := range violations {
		msgs[i] = v.Error()
	}
	slog.Debug("schema validation rejected properties",
		"type", objectType,
		"violations", len(violations),
	)
	return store.NewValidation("property validation failed", map[string]string{
		"type":       objectType,
		"violations": strings.Join(msgs, "; "),
	})
}

// checkBranch loads the branch and confirms it belongs to the caller's org
// and project when those are provided.
func (s *Service) checkBranch(ctx context.Context, branchID, orgID, projectID string) (store.Branch, error) {
	b, err := s.store.GetBranch(ctx, branchID)
	if err != nil {
		return store.Branch{}, err
	}
	if orgID != "" && b.OrgID != orgID {
		return store.Branch{}, store.NewValidation("branch belongs to a different org", map[string]string{
			"branch_id": branchID,
		})
	}
	if projectID != "" && b.ProjectID != projectID {
		return store.Branch{}, store.NewValidation("branch belongs to a different project", map[string]string{
			"branch_id": branchID,
		})
	}
	return b, nil
}
