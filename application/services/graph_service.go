package services

import (
	"context"

	"go.uber.org/zap"

	"prism-backend/application/ledger"
	"prism-backend/application/ports"
	"prism-backend/domain/core/aggregates"
	"prism-backend/domain/core/valueobjects"
	pkgerrors "prism-backend/pkg/errors"
	"prism-backend/pkg/observability"
)

// NodeUpdate describes a partial change to a shared node record. Nil fields
// are left unchanged; ClearParent distinguishes "detach" from "leave
// unchanged" for the parent pointer.
type NodeUpdate struct {
	Label        *string
	Description  *string
	ParentID     *string
	ClearParent  bool
	CustomFields map[string]any
}

// destructive reports whether the update rewrites shared meaning in a way
// other users with votes on the node would care about.
func (u NodeUpdate) destructive() bool {
	return u.Label != nil || u.ParentID != nil || u.ClearParent
}

// EncumbranceError is returned when a destructive operation is refused
// because other users hold vote records on the node. Callers surface the
// external-user list and may retry with force.
type EncumbranceError struct {
	NodeID        string
	ExternalUsers []ports.ExternalUser
}

func (e *EncumbranceError) Error() string {
	return "node " + e.NodeID + " is encumbered by other users"
}

// GraphService is the high-level mutation and query surface. It layers the
// encumbrance policy over the backend: destructive edits on behalf of a
// single non-privileged actor are refused while other users hold data,
// unless the caller forces them with explicit acknowledgment.
type GraphService struct {
	backend ports.StorageBackend
	editor  *TopologyEditor
	logger  *zap.Logger
	metrics *observability.Collector
}

// NewGraphService creates the service and its embedded topology editor.
func NewGraphService(backend ports.StorageBackend, logger *zap.Logger, metrics *observability.Collector) *GraphService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GraphService{
		backend: backend,
		editor:  NewTopologyEditor(backend, logger, metrics),
		logger:  logger,
		metrics: metrics,
	}
}

// Editor exposes the structural edit operations.
func (s *GraphService) Editor() *TopologyEditor { return s.editor }

// Backend exposes the underlying storage backend.
func (s *GraphService) Backend() ports.StorageBackend { return s.backend }

// checkEncumbrance returns an EncumbranceError when other users hold votes
// on the node and the caller did not force the operation.
func (s *GraphService) checkEncumbrance(ctx context.Context, author, nodeID string, force bool) error {
	if force {
		return nil
	}
	external, err := s.backend.ExternalUsers(ctx, nodeID, author)
	if err != nil {
		return err
	}
	if len(external) > 0 {
		return &EncumbranceError{NodeID: nodeID, ExternalUsers: external}
	}
	return nil
}

// CheckEditPermission reports whether the author may destructively edit the
// node without forcing, along with the external users involved.
func (s *GraphService) CheckEditPermission(ctx context.Context, author, nodeID string) (bool, []ports.ExternalUser, error) {
	if s.backend.IsReadOnly() {
		return false, nil, nil
	}
	external, err := s.backend.ExternalUsers(ctx, nodeID, author)
	if err != nil {
		return false, nil, err
	}
	return len(external) == 0, external, nil
}

// AddNode creates a node and records the author's accept vote.
func (s *GraphService) AddNode(ctx context.Context, author, label, parentID string, pos valueobjects.Position) (string, error) {
	return s.editor.CreateNode(ctx, pos, label, parentID, author)
}

// UpdateSharedNode applies a partial update to a shared node. Label rewrites
// and reparenting consult the encumbrance policy first; description and
// custom field edits are additive and always allowed.
func (s *GraphService) UpdateSharedNode(ctx context.Context, author, nodeID string, update NodeUpdate, force bool) error {
	ctx, span := observability.Tracer().Start(ctx, "GraphService.UpdateSharedNode")
	defer span.End()

	nodes, err := s.backend.LoadNodes(ctx)
	if err != nil {
		return err
	}
	node, ok := nodes[nodeID]
	if !ok {
		return pkgerrors.NewNotFound("node not found: " + nodeID)
	}

	if update.destructive() {
		if err := s.checkEncumbrance(ctx, author, nodeID, force); err != nil {
			return err
		}
	}

	labelChanged := false
	if update.Label != nil && *update.Label != node.Label {
		node.Label = *update.Label
		labelChanged = true
	}
	if update.Description != nil {
		node.Description = *update.Description
	}
	switch {
	case update.ClearParent:
		node.ParentID = ""
	case update.ParentID != nil:
		newParent := *update.ParentID
		if _, ok := nodes[newParent]; !ok {
			return pkgerrors.NewNotFound("parent node not found: " + newParent)
		}
		if wouldCreateCycle(nodes, nodeID, newParent) {
			return pkgerrors.NewValidation("reparent would create a cycle")
		}
		node.ParentID = newParent
	}
	for key, value := range update.CustomFields {
		if err := node.SetCustomField(key, value); err != nil {
			return err
		}
	}

	if err := s.backend.SaveNode(ctx, node); err != nil {
		return err
	}

	if labelChanged {
		if appender, ok := s.backend.(mutationAppender); ok {
			m := ledger.New(author, nodeID, ledger.ActionUpdateLabel, node.Label)
			if err := appender.AppendMutation(ctx, m); err != nil {
				return err
			}
		}
	}
	s.logger.Info("updated shared node",
		zap.String("node_id", nodeID),
		zap.String("author", author),
		zap.Bool("label_changed", labelChanged))
	return nil
}

// SetVote writes the author's own vote record on a node. Setting a record
// back to pending with no notes deletes it rather than storing an empty row.
func (s *GraphService) SetVote(ctx context.Context, author, nodeID string, update ports.VoteUpdate) error {
	nodes, err := s.backend.LoadNodes(ctx)
	if err != nil {
		return err
	}
	if _, ok := nodes[nodeID]; !ok {
		return pkgerrors.NewNotFound("node not found: " + nodeID)
	}
	return s.backend.SetVote(ctx, author, nodeID, update)
}

// RemoveVote resets the author's vote on a node to pending.
func (s *GraphService) RemoveVote(ctx context.Context, author, nodeID string) error {
	return s.backend.RemoveVote(ctx, author, nodeID)
}

// DeleteNode removes a node after the encumbrance check. When refused, the
// returned EncumbranceError carries the external users so the caller can ask
// for confirmation and retry with force.
func (s *GraphService) DeleteNode(ctx context.Context, author, nodeID string, force bool) error {
	if err := s.checkEncumbrance(ctx, author, nodeID, force); err != nil {
		return err
	}
	return s.editor.DeleteNode(ctx, nodeID, author)
}

// ExternalUsers lists every other user with a vote record on the node.
func (s *GraphService) ExternalUsers(ctx context.Context, author, nodeID string) ([]ports.ExternalUser, error) {
	return s.backend.ExternalUsers(ctx, nodeID, author)
}

// IsEncumbered reports whether any other user holds a vote record on the node.
func (s *GraphService) IsEncumbered(ctx context.Context, author, nodeID string) (bool, error) {
	return s.backend.IsEncumbered(ctx, nodeID, author)
}

// GetGraph returns the aggregated view.
func (s *GraphService) GetGraph(ctx context.Context) (*aggregates.Graph, error) {
	return s.backend.GetGraph(ctx)
}

// ListUsers returns the known user set.
func (s *GraphService) ListUsers(ctx context.Context) ([]string, error) {
	return s.backend.ListUsers(ctx)
}

// ReclaimOrphans deletes all nodes without a single vote record and nulls
// dangling parent pointers on survivors.
func (s *GraphService) ReclaimOrphans(ctx context.Context) (int, error) {
	count, err := s.backend.ReclaimOrphans(ctx)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.logger.Info("reclaimed orphan nodes", zap.Int("count", count))
	}
	return count, nil
}

// Sync pulls the latest shared state.
func (s *GraphService) Sync(ctx context.Context) (ports.SyncResult, error) {
	return s.backend.Sync(ctx)
}

// Push publishes local changes.
func (s *GraphService) Push(ctx context.Context) (ports.SyncResult, error) {
	return s.backend.Push(ctx)
}

// HasUnpushedChanges reports pending local changes.
func (s *GraphService) HasUnpushedChanges(ctx context.Context) (bool, error) {
	return s.backend.HasUnpushedChanges(ctx)
}

// SeedDemo populates an empty project with a small starter tree so a new
// checkout renders something. Projects with any existing node are left
// untouched.
func (s *GraphService) SeedDemo(ctx context.Context, author string) error {
	nodes, err := s.backend.LoadNodes(ctx)
	if err != nil {
		return err
	}
	if len(nodes) > 0 {
		return nil
	}

	pos, _ := valueobjects.NewPosition(0, 0)
	rootID, err := s.editor.CreateNode(ctx, pos, "Ideas", "", author)
	if err != nil {
		return err
	}
	for _, label := range []string{"First idea", "Second idea"} {
		if _, err := s.editor.CreateNode(ctx, pos, label, rootID, author); err != nil {
			return err
		}
	}
	s.logger.Info("seeded demo graph", zap.String("author", author))
	return nil
}
