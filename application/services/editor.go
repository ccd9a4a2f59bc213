// Package services holds the application-layer surface consumed by the front
// end: TopologyEditor for structural gestures already resolved to node ids,
// and GraphService for the higher-level mutation and query API with its
// encumbrance policy.
package services

import (
	"context"

	"go.uber.org/zap"

	"prism-backend/application/ledger"
	"prism-backend/application/ports"
	"prism-backend/domain/core/entities"
	"prism-backend/domain/core/valueobjects"
	pkgerrors "prism-backend/pkg/errors"
	"prism-backend/pkg/observability"
)

// mutationAppender is satisfied by backends that keep a mutation ledger (the
// file backend). Structural deletions and label rewrites are recorded there
// so diverged copies converge after a merge.
type mutationAppender interface {
	AppendMutation(ctx context.Context, m ledger.Mutation) error
}

// TopologyEditor executes structural edit gestures against the storage
// backend. Every operation reads current shared state, computes the new
// state, and writes it; nothing persists across calls. Positions are opaque
// layout hints passed through to storage, never interpreted here.
type TopologyEditor struct {
	backend ports.StorageBackend
	logger  *zap.Logger
	metrics *observability.Collector
}

// NewTopologyEditor creates an editor over the given backend.
func NewTopologyEditor(backend ports.StorageBackend, logger *zap.Logger, metrics *observability.Collector) *TopologyEditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TopologyEditor{backend: backend, logger: logger, metrics: metrics}
}

// wouldCreateCycle reports whether setting childID's parent to newParentID
// would close a cycle, by walking newParentID's ancestor chain. The walk is
// bounded by the node count so a pre-existing corrupt cycle cannot hang it.
func wouldCreateCycle(nodes map[string]entities.Node, childID, newParentID string) bool {
	if childID == newParentID {
		return true
	}
	current := newParentID
	for range nodes {
		node, ok := nodes[current]
		if !ok || node.ParentID == "" {
			return false
		}
		if node.ParentID == childID {
			return true
		}
		current = node.ParentID
	}
	// Walked more steps than there are nodes: the existing chain is already
	// cyclic, refuse the edit rather than make it worse.
	return true
}

func applyPosition(node *entities.Node, pos valueobjects.Position) {
	// Layout hints ride along in the shared custom fields.
	_ = node.SetCustomField("x", pos.X())
	_ = node.SetCustomField("y", pos.Y())
}

// CreateNode creates a node at the given position, optionally under a
// parent, and records the author's accept vote so the new node is never born
// an orphan.
func (e *TopologyEditor) CreateNode(ctx context.Context, pos valueobjects.Position, label, parentID, author string) (string, error) {
	ctx, span := observability.Tracer().Start(ctx, "TopologyEditor.CreateNode")
	defer span.End()

	if parentID != "" {
		nodes, err := e.backend.LoadNodes(ctx)
		if err != nil {
			return "", err
		}
		if _, ok := nodes[parentID]; !ok {
			return "", pkgerrors.NewNotFound("parent node not found: " + parentID)
		}
	}

	node, err := entities.NewNode(label, parentID)
	if err != nil {
		return "", err
	}
	applyPosition(&node, pos)

	if err := e.backend.SaveNode(ctx, node); err != nil {
		return "", err
	}
	if err := e.backend.SetVote(ctx, author, node.ID, ports.VoteUpdate{Interested: entities.Vote(true)}); err != nil {
		return "", err
	}

	if e.metrics != nil {
		e.metrics.NodesCreated.Inc()
	}
	e.logger.Info("created node",
		zap.String("node_id", node.ID),
		zap.String("parent_id", parentID),
		zap.String("author", author))
	return node.ID, nil
}

// CreateIntermediary inserts a new node between an existing parent→child
// edge: the new node's parent becomes sourceID and targetID's parent becomes
// the new node. The child's record is re-read immediately before its parent
// pointer is rewritten, because creating the intermediate already changed
// the shared store.
func (e *TopologyEditor) CreateIntermediary(ctx context.Context, sourceID, targetID string, pos valueobjects.Position, author string) (string, error) {
	ctx, span := observability.Tracer().Start(ctx, "TopologyEditor.CreateIntermediary")
	defer span.End()

	nodes, err := e.backend.LoadNodes(ctx)
	if err != nil {
		return "", err
	}
	if _, ok := nodes[sourceID]; !ok {
		return "", pkgerrors.NewNotFound("source node not found: " + sourceID)
	}
	if _, ok := nodes[targetID]; !ok {
		return "", pkgerrors.NewNotFound("target node not found: " + targetID)
	}
	// After the insert, target's ancestry runs through source. Refuse when
	// that would close a loop.
	if wouldCreateCycle(nodes, targetID, sourceID) {
		return "", pkgerrors.NewValidation("insertion would create a cycle")
	}

	target := nodes[targetID]
	mid, err := entities.NewNode(target.Label+" (group)", sourceID)
	if err != nil {
		return "", err
	}
	applyPosition(&mid, pos)
	if err := e.backend.SaveNode(ctx, mid); err != nil {
		return "", err
	}
	if err := e.backend.SetVote(ctx, author, mid.ID, ports.VoteUpdate{Interested: entities.Vote(true)}); err != nil {
		return "", err
	}

	// Re-read: the store has changed since the snapshot above.
	nodes, err = e.backend.LoadNodes(ctx)
	if err != nil {
		return "", err
	}
	child, ok := nodes[targetID]
	if !ok {
		return "", pkgerrors.NewNotFound("target node vanished during insertion: " + targetID)
	}
	child.ParentID = mid.ID
	if err := e.backend.SaveNode(ctx, child); err != nil {
		return "", err
	}

	if e.metrics != nil {
		e.metrics.NodesCreated.Inc()
	}
	e.logger.Info("inserted intermediary node",
		zap.String("node_id", mid.ID),
		zap.String("source_id", sourceID),
		zap.String("target_id", targetID))
	return mid.ID, nil
}

// MakeIntermediary reparents an existing node into the middle of an edge:
// the dragged node's parent becomes sourceID and targetID's parent becomes
// the dragged node. Degenerate input (the dragged node being an endpoint of
// the edge) leaves state unchanged and reports a no-op.
func (e *TopologyEditor) MakeIntermediary(ctx context.Context, draggingID, sourceID, targetID string) (bool, error) {
	ctx, span := observability.Tracer().Start(ctx, "TopologyEditor.MakeIntermediary")
	defer span.End()

	if draggingID == targetID || draggingID == sourceID || sourceID == targetID {
		return false, nil
	}

	nodes, err := e.backend.LoadNodes(ctx)
	if err != nil {
		return false, err
	}
	for _, id := range []string{draggingID, sourceID, targetID} {
		if _, ok := nodes[id]; !ok {
			return false, pkgerrors.NewNotFound("node not found: " + id)
		}
	}

	// Check the combined result before writing anything: dragging hangs off
	// source, target hangs off dragging.
	preview := make(map[string]entities.Node, len(nodes))
	for id, n := range nodes {
		preview[id] = n
	}
	dragged := preview[draggingID]
	dragged.ParentID = sourceID
	preview[draggingID] = dragged
	if wouldCreateCycle(preview, targetID, draggingID) {
		return false, pkgerrors.NewValidation("insertion would create a cycle")
	}

	if err := e.backend.SaveNode(ctx, dragged); err != nil {
		return false, err
	}
	child := nodes[targetID]
	child.ParentID = draggingID
	if err := e.backend.SaveNode(ctx, child); err != nil {
		return false, err
	}

	e.logger.Info("reparented node as intermediary",
		zap.String("node_id", draggingID),
		zap.String("source_id", sourceID),
		zap.String("target_id", targetID))
	return true, nil
}

// ConnectNodes reparents childID under newParentID.
func (e *TopologyEditor) ConnectNodes(ctx context.Context, childID, newParentID string) error {
	ctx, span := observability.Tracer().Start(ctx, "TopologyEditor.ConnectNodes")
	defer span.End()

	nodes, err := e.backend.LoadNodes(ctx)
	if err != nil {
		return err
	}
	child, ok := nodes[childID]
	if !ok {
		return pkgerrors.NewNotFound("node not found: " + childID)
	}
	if _, ok := nodes[newParentID]; !ok {
		return pkgerrors.NewNotFound("node not found: " + newParentID)
	}
	if wouldCreateCycle(nodes, childID, newParentID) {
		return pkgerrors.NewValidation("reparent would create a cycle")
	}

	child.ParentID = newParentID
	return e.backend.SaveNode(ctx, child)
}

// DisconnectEdge clears the child's parent when it currently equals
// parentID. Callers sometimes pass the endpoints in the other order, so the
// swapped direction is tried as a fallback. Reports whether an edge was cut.
func (e *TopologyEditor) DisconnectEdge(ctx context.Context, parentID, childID string) (bool, error) {
	ctx, span := observability.Tracer().Start(ctx, "TopologyEditor.DisconnectEdge")
	defer span.End()

	nodes, err := e.backend.LoadNodes(ctx)
	if err != nil {
		return false, err
	}

	if child, ok := nodes[childID]; ok && child.ParentID == parentID {
		child.ParentID = ""
		return true, e.backend.SaveNode(ctx, child)
	}
	if child, ok := nodes[parentID]; ok && child.ParentID == childID {
		child.ParentID = ""
		return true, e.backend.SaveNode(ctx, child)
	}
	return false, nil
}

// DeleteNode detaches all children, removes the node record, and purges the
// node's key from every user's vote bucket. On ledger-keeping backends the
// deletion is also recorded as a mutation so buckets merged in later
// converge to the same state.
func (e *TopologyEditor) DeleteNode(ctx context.Context, nodeID, author string) error {
	ctx, span := observability.Tracer().Start(ctx, "TopologyEditor.DeleteNode")
	defer span.End()

	nodes, err := e.backend.LoadNodes(ctx)
	if err != nil {
		return err
	}
	if _, ok := nodes[nodeID]; !ok {
		return pkgerrors.NewNotFound("node not found: " + nodeID)
	}

	if appender, ok := e.backend.(mutationAppender); ok {
		m := ledger.New(author, nodeID, ledger.ActionDeleteNode, "")
		if err := appender.AppendMutation(ctx, m); err != nil {
			return err
		}
	}

	for id, node := range nodes {
		if node.ParentID != nodeID {
			continue
		}
		node.ParentID = ""
		if err := e.backend.SaveNode(ctx, node); err != nil {
			return err
		}
		e.logger.Debug("detached child of deleted node",
			zap.String("child_id", id), zap.String("deleted_id", nodeID))
	}

	if err := e.backend.DeleteNode(ctx, nodeID); err != nil {
		return err
	}

	users, err := e.backend.ListUsers(ctx)
	if err != nil {
		return err
	}
	for _, userID := range users {
		if err := e.backend.RemoveVote(ctx, userID, nodeID); err != nil {
			return err
		}
	}

	if e.metrics != nil {
		e.metrics.NodesDeleted.Inc()
	}
	e.logger.Info("deleted node", zap.String("node_id", nodeID), zap.String("author", author))
	return nil
}
