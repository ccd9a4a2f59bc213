// Package persistence selects and constructs the storage backend for a
// project session.
package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"prism-backend/application/ports"
	"prism-backend/infrastructure/config"
	"prism-backend/infrastructure/persistence/gitfs"
	"prism-backend/infrastructure/persistence/supabase"
	pkgerrors "prism-backend/pkg/errors"
	"prism-backend/pkg/observability"
)

// projectRecord is the optional per-project override file stored next to the
// data (<project>/project.json). It lets one installation switch a single
// project to a different backend without touching the application config.
type projectRecord struct {
	Backend  string `json:"backend,omitempty"`
	Supabase struct {
		URL         string `json:"url,omitempty"`
		Key         string `json:"key,omitempty"`
		ProjectID   string `json:"project_id,omitempty"`
		ProjectSlug string `json:"project_slug,omitempty"`
		ReadOnly    bool   `json:"read_only,omitempty"`
	} `json:"supabase,omitempty"`
}

func loadProjectRecord(projectPath string) (projectRecord, error) {
	var rec projectRecord
	data, err := os.ReadFile(filepath.Join(projectPath, "project.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return rec, nil
		}
		return rec, pkgerrors.NewInternal("read project record", err)
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, pkgerrors.NewValidation("malformed project record: " + err.Error())
	}
	return rec, nil
}

// NewBackend constructs the storage backend the project configuration
// selects, applying per-project overrides when present.
func NewBackend(cfg *config.Config, logger *zap.Logger, metrics *observability.Collector) (ports.StorageBackend, error) {
	backend := cfg.Project.Backend
	sb := cfg.Supabase

	rec, err := loadProjectRecord(cfg.Project.Path)
	if err != nil {
		return nil, err
	}
	if rec.Backend != "" {
		backend = rec.Backend
	}
	if rec.Supabase.URL != "" {
		sb.URL = rec.Supabase.URL
	}
	if rec.Supabase.Key != "" {
		sb.Key = rec.Supabase.Key
	}
	if rec.Supabase.ProjectID != "" {
		sb.ProjectID = rec.Supabase.ProjectID
	}
	if rec.Supabase.ProjectSlug != "" {
		sb.ProjectSlug = rec.Supabase.ProjectSlug
	}
	if rec.Supabase.ReadOnly {
		sb.ReadOnly = true
	}

	switch backend {
	case "git":
		git := gitfs.NewGitRunner(cfg.Project.Path, cfg.Git.Timeout, logger)
		return gitfs.New(cfg.Project.Path,
			gitfs.WithGit(git),
			gitfs.WithLogger(logger),
			gitfs.WithMetrics(metrics),
		)
	case "supabase":
		return supabase.New(supabase.Config{
			URL:             sb.URL,
			Key:             sb.Key,
			ProjectID:       sb.ProjectID,
			ProjectSlug:     sb.ProjectSlug,
			ActiveUserID:    cfg.Project.ActiveUser,
			ReadOnly:        sb.ReadOnly,
			GraphCacheTTL:   sb.GraphCacheTTL,
			MembersCacheTTL: sb.MembersCacheTTL,
		},
			supabase.WithLogger(logger),
			supabase.WithMetrics(metrics),
		)
	default:
		return nil, pkgerrors.NewValidation("unknown backend: " + backend)
	}
}
