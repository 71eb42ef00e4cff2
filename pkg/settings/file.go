package settings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/nonomal/mcphub-sub001/pkg/logger"
	"github.com/nonomal/mcphub-sub001/pkg/metrics"
	"github.com/nonomal/mcphub-sub001/pkg/types"
	"go.uber.org/zap"
)

// fileState is shared by every FileStore opened on the same path.
type fileState struct {
	// write serializes Save and Update
	write sync.Mutex

	mu    sync.RWMutex
	cache []byte
}

var (
	statesMu sync.Mutex
	states   = map[string]*fileState{}
)

func stateFor(path string) *fileState {
	statesMu.Lock()
	defer statesMu.Unlock()
	s, ok := states[path]
	if !ok {
		s = &fileState{}
		states[path] = s
	}
	return s
}

// FileStore keeps the settings document in a single JSON file.
type FileStore struct {
	path  string
	state *fileState
	log   *zap.Logger
}

// NewFileStore opens the settings file at path. The file does not need to exist.
func NewFileStore(path string, log *zap.Logger) (*FileStore, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve settings path: %w", err)
	}
	return &FileStore{
		path:  abs,
		state: stateFor(abs),
		log:   logger.OrNop(log).With(zap.String("settings", abs)),
	}, nil
}

// Path returns the absolute path of the settings file.
func (f *FileStore) Path() string {
	return f.path
}

// Load never fails: a missing or malformed file yields an empty document.
func (f *FileStore) Load(_ context.Context) (*types.Settings, error) {
	data := f.cached()
	if data == nil {
		data = f.readFile()
	}
	return decode(data), nil
}

func (f *FileStore) Save(_ context.Context, doc *types.Settings) error {
	f.state.write.Lock()
	defer f.state.write.Unlock()
	return f.write(doc)
}

func (f *FileStore) Update(ctx context.Context, fn func(doc *types.Settings) error) error {
	f.state.write.Lock()
	defer f.state.write.Unlock()

	doc, err := f.Load(ctx)
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		if errors.Is(err, ErrSkipSave) {
			return nil
		}
		return err
	}
	return f.write(doc)
}

func (f *FileStore) cached() []byte {
	f.state.mu.RLock()
	defer f.state.mu.RUnlock()
	return f.state.cache
}

func (f *FileStore) setCache(data []byte) {
	f.state.mu.Lock()
	f.state.cache = data
	f.state.mu.Unlock()
}

// readFile returns the file contents when they parse, caching them. It
// returns nil for a missing or malformed file.
func (f *FileStore) readFile() []byte {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if !os.IsNotExist(err) {
			f.log.Warn("Failed to read settings file, using defaults", zap.Error(err))
		}
		return nil
	}
	if !json.Valid(data) {
		f.log.Warn("Settings file is not valid JSON, using defaults")
		return nil
	}
	f.setCache(data)
	return data
}

func (f *FileStore) write(doc *types.Settings) (err error) {
	defer func() {
		metrics.SettingsWrites.WithLabelValues(metrics.Result(err)).Inc()
	}()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: failed to encode settings: %w", types.ErrStorageFailure, err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: failed to create settings directory: %w", types.ErrStorageFailure, err)
	}

	tmp, err := os.CreateTemp(dir, ".settings-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: failed to create temp file: %w", types.ErrStorageFailure, err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: failed to write settings: %w", types.ErrStorageFailure, err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: failed to sync settings: %w", types.ErrStorageFailure, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("%w: failed to close settings: %w", types.ErrStorageFailure, err)
	}
	if err = os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("%w: failed to replace settings file: %w", types.ErrStorageFailure, err)
	}

	f.setCache(data)
	return nil
}

// reload replaces the cache with the file contents if they are valid and changed.
func (f *FileStore) reload() bool {
	f.state.write.Lock()
	defer f.state.write.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil || !json.Valid(data) {
		return false
	}
	if bytes.Equal(data, f.cached()) {
		return false
	}
	f.setCache(data)
	return true
}

func decode(data []byte) *types.Settings {
	doc := &types.Settings{}
	if len(data) == 0 {
		return doc
	}
	if err := json.Unmarshal(data, doc); err != nil {
		// Valid JSON with the wrong shape, e.g. a top-level array.
		return &types.Settings{}
	}
	return doc
}
