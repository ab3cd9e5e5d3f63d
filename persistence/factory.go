package persistence

import (
	"fmt"

	"go.uber.org/zap"
)

// NewRunStore creates a run store for the configured backend.
func NewRunStore(opts Options, logger *zap.Logger) (RunStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch opts.Type {
	case StoreTypeMemory, "":
		return NewMemoryRunStore(), nil
	case StoreTypeFile:
		return NewFileRunStore(opts.BaseDir)
	case StoreTypeRedis:
		return NewRedisRunStore(opts, logger)
	case StoreTypeSQLite:
		return NewSQLiteRunStore(opts.Path, logger)
	default:
		return nil, fmt.Errorf("unknown store type: %s", opts.Type)
	}
}
