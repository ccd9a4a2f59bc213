package gitfs

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"prism-backend/application/ledger"
	"prism-backend/domain/core/entities"
	pkgerrors "prism-backend/pkg/errors"
)

// Persisted layout under the project root:
//
//	nodes/<node-id>.json      one file per shared node
//	data/<user-id>.json       one vote bucket per user
//	mutations/<ulid>.json     immutable ledger records
//
// Records are written via temp-file-and-rename so a single Put is atomic
// with respect to concurrent readers. Cross-record atomicity is not
// provided; git's merge handles cross-process divergence.
const (
	nodesDirName     = "nodes"
	dataDirName      = "data"
	mutationsDirName = "mutations"
)

type fileStore struct {
	root         string
	nodesDir     string
	dataDir      string
	mutationsDir string
	logger       *zap.Logger
}

func newFileStore(root string, logger *zap.Logger) (*fileStore, error) {
	fs := &fileStore{
		root:         root,
		nodesDir:     filepath.Join(root, nodesDirName),
		dataDir:      filepath.Join(root, dataDirName),
		mutationsDir: filepath.Join(root, mutationsDirName),
		logger:       logger,
	}
	for _, dir := range []string{fs.nodesDir, fs.dataDir, fs.mutationsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, pkgerrors.NewInternal("create project directory", err)
		}
	}
	return fs, nil
}

// writeJSON writes a record atomically: temp file in the same directory,
// then rename over the target.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return pkgerrors.NewInternal("encode record", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return pkgerrors.NewInternal("create temp file", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return pkgerrors.NewInternal("write record", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return pkgerrors.NewInternal("close temp file", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return pkgerrors.NewInternal("replace record", err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func jsonStems(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, pkgerrors.NewInternal("read directory "+dir, err)
	}
	var stems []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		stems = append(stems, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(stems)
	return stems, nil
}

// --- Nodes ---

func (fs *fileStore) nodePath(nodeID string) string {
	return filepath.Join(fs.nodesDir, nodeID+".json")
}

func (fs *fileStore) loadNodes() (map[string]entities.Node, error) {
	stems, err := jsonStems(fs.nodesDir)
	if err != nil {
		return nil, err
	}
	nodes := make(map[string]entities.Node, len(stems))
	for _, stem := range stems {
		var node entities.Node
		if err := readJSON(fs.nodePath(stem), &node); err != nil {
			// One corrupt file must not hide the rest of the graph.
			fs.logger.Warn("skipping unreadable node file",
				zap.String("node_id", stem), zap.Error(err))
			continue
		}
		if node.ID == "" {
			node.ID = stem
		}
		node.Normalize()
		nodes[node.ID] = node
	}
	return nodes, nil
}

func (fs *fileStore) saveNode(node entities.Node) error {
	return writeJSON(fs.nodePath(node.ID), node)
}

func (fs *fileStore) deleteNode(nodeID string) error {
	err := os.Remove(fs.nodePath(nodeID))
	if err != nil && !os.IsNotExist(err) {
		return pkgerrors.NewInternal("delete node file", err)
	}
	return nil
}

// --- Vote buckets ---

func (fs *fileStore) bucketPath(userID string) string {
	return filepath.Join(fs.dataDir, userID+".json")
}

func (fs *fileStore) listUsers() ([]string, error) {
	return jsonStems(fs.dataDir)
}

func (fs *fileStore) loadBucket(userID string) (*entities.VoteBucket, error) {
	bucket := entities.NewVoteBucket(userID)
	err := readJSON(fs.bucketPath(userID), bucket)
	if err != nil {
		if os.IsNotExist(err) {
			return bucket, nil
		}
		fs.logger.Warn("unreadable vote bucket, treating as empty",
			zap.String("user_id", userID), zap.Error(err))
		return entities.NewVoteBucket(userID), nil
	}
	// The filename is authoritative for the user id.
	bucket.UserID = userID
	if bucket.Nodes == nil {
		bucket.Nodes = make(map[string]entities.VoteRecord)
	}
	return bucket, nil
}

func (fs *fileStore) saveBucket(bucket *entities.VoteBucket) error {
	if bucket.UserID == "" {
		return pkgerrors.NewValidation("vote bucket missing user id")
	}
	return writeJSON(fs.bucketPath(bucket.UserID), bucket)
}

func (fs *fileStore) loadAllBuckets() (map[string]*entities.VoteBucket, error) {
	users, err := fs.listUsers()
	if err != nil {
		return nil, err
	}
	buckets := make(map[string]*entities.VoteBucket, len(users))
	for _, userID := range users {
		bucket, err := fs.loadBucket(userID)
		if err != nil {
			return nil, err
		}
		buckets[userID] = bucket
	}
	return buckets, nil
}

// --- Mutation ledger records ---

func (fs *fileStore) mutationPath(id string) string {
	return filepath.Join(fs.mutationsDir, id+".json")
}

func (fs *fileStore) appendMutation(m ledger.Mutation) error {
	path := fs.mutationPath(m.ID)
	if _, err := os.Stat(path); err == nil {
		// Ledger records are immutable once written.
		return pkgerrors.NewInvalidMutation("mutation already recorded: " + m.ID)
	}
	return writeJSON(path, m)
}

func (fs *fileStore) loadMutations() ([]ledger.Mutation, error) {
	stems, err := jsonStems(fs.mutationsDir)
	if err != nil {
		return nil, err
	}
	mutations := make([]ledger.Mutation, 0, len(stems))
	for _, stem := range stems {
		var m ledger.Mutation
		if err := readJSON(fs.mutationPath(stem), &m); err != nil {
			fs.logger.Warn("skipping malformed mutation record",
				zap.String("mutation_id", stem), zap.Error(err))
			continue
		}
		if m.ID == "" {
			m.ID = stem
		}
		mutations = append(mutations, m)
	}
	return mutations, nil
}
