// Package persistence provides persistent storage for workflow run
// snapshots, so a paused run survives a process restart and can be
// queried and resumed later.
//
// Supported backends:
//   - Memory: for development and testing (default)
//   - File: one JSON document per run, for single-node deployments
//   - Redis: for distributed deployments
//   - SQLite: embedded relational storage via gorm
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/loomworks/loom/types"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrStoreClosed  = errors.New("store is closed")
	ErrInvalidInput = errors.New("invalid input")
)

// StoreType represents the type of storage backend.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeFile   StoreType = "file"
	StoreTypeRedis  StoreType = "redis"
	StoreTypeSQLite StoreType = "sqlite"
)

// PendingRequest mirrors the workflow pending request in the persisted
// shape. Local type to avoid importing the workflow package.
type PendingRequest struct {
	ID        string    `json:"id"`
	Step      string    `json:"step,omitempty"`
	Prompt    string    `json:"prompt"`
	CreatedAt time.Time `json:"created_at"`
}

// RunRecord is the serialized state of one workflow run. Config carries
// the opaque orchestrator configuration so a paused run can be
// rehydrated after a restart.
type RunRecord struct {
	RunID       string          `json:"run_id"`
	Topology    string          `json:"topology"`
	Status      string          `json:"status"`
	Transcript  []types.Message `json:"transcript"`
	Pending     *PendingRequest `json:"pending_request,omitempty"`
	ErrorDetail string          `json:"error_detail,omitempty"`
	Config      json.RawMessage `json:"config,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// RunFilter selects runs in ListRuns. Zero values match everything.
type RunFilter struct {
	Status   string
	Topology string
	Limit    int
}

// Store is the base interface shared by all backends.
type Store interface {
	// Close releases backend resources.
	Close() error

	// Ping checks if the store is healthy.
	Ping(ctx context.Context) error
}

// RunStore persists workflow run snapshots.
type RunStore interface {
	Store

	// SaveRun persists a run record (create or update).
	SaveRun(ctx context.Context, record *RunRecord) error

	// GetRun retrieves a run record by id.
	GetRun(ctx context.Context, runID string) (*RunRecord, error)

	// ListRuns retrieves run records matching the filter, newest first.
	ListRuns(ctx context.Context, filter RunFilter) ([]*RunRecord, error)

	// DeleteRun removes a run record.
	DeleteRun(ctx context.Context, runID string) error
}

// Options selects and configures a backend.
type Options struct {
	// Type is the storage backend type.
	Type StoreType `json:"type" yaml:"type"`

	// BaseDir is the directory for file-based storage.
	BaseDir string `json:"base_dir" yaml:"base_dir"`

	// Path is the database file for the sqlite backend.
	Path string `json:"path" yaml:"path"`

	// Redis configuration (only used when Type is "redis").
	Redis RedisOptions `json:"redis" yaml:"redis"`
}

// RedisOptions configures the Redis backend.
type RedisOptions struct {
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// matchesFilter reports whether a record passes the filter.
func matchesFilter(r *RunRecord, filter RunFilter) bool {
	if filter.Status != "" && r.Status != filter.Status {
		return false
	}
	if filter.Topology != "" && r.Topology != filter.Topology {
		return false
	}
	return true
}
