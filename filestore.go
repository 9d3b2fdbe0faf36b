package matchstore

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/tablegames/matchstore/mlog"
)

const gameFileExt = ".json.gz"

// FileStore keeps one gzipped JSON document per game under a base
// directory, fanned out into subdirectories named after the first two
// characters of the game id. Writes build a temp file and rename it into
// place; an advisory lock file serializes writers across processes sharing
// the directory.
type FileStore struct {
	baseDir  string
	lockPath string
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns a store rooted at baseDir. Connect creates the
// directory if needed.
func NewFileStore(baseDir string) *FileStore {
	return &FileStore{
		baseDir:  baseDir,
		lockPath: filepath.Join(baseDir, ".lock"),
	}
}

func (s *FileStore) Connect(ctx context.Context) error {
	if err := os.MkdirAll(s.baseDir, 0755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	mlog.Infof("File store ready at %s", s.baseDir)
	return nil
}

// gamePath returns the sharded path for a game id. Ids are path-escaped so
// arbitrary keys stay within a single path segment.
func (s *FileStore) gamePath(id GameID) string {
	name := url.PathEscape(string(id))
	if name == "" {
		name = "_"
	}
	if name[0] == '.' {
		// PathEscape keeps dots, so an id like ".." would shard into a
		// segment that resolves outside baseDir. Encode the leading dot;
		// PathUnescape in ListRecent still recovers the id.
		name = "%2E" + name[1:]
	}
	shard := name
	if len(shard) > 2 {
		shard = shard[:2]
	}
	return filepath.Join(s.baseDir, strings.ToUpper(shard), name+gameFileExt)
}

func (s *FileStore) FindOne(ctx context.Context, id GameID) (GameState, error) {
	p := s.gamePath(id)
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return GameState{}, ErrNotFound
	}
	if err != nil {
		return GameState{}, fmt.Errorf("open game %q: %w", id, err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return GameState{}, fmt.Errorf("read game %q: %w", id, err)
	}
	defer gz.Close()
	var state GameState
	if err := json.NewDecoder(gz).Decode(&state); err != nil {
		return GameState{}, fmt.Errorf("decode game %q: %w", id, err)
	}
	state.Rev = p
	return state, nil
}

func (s *FileStore) Upsert(ctx context.Context, id GameID, state GameState) error {
	p := s.gamePath(id)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("create shard directory: %w", err)
	}
	unlock, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	tmp, err := os.CreateTemp(filepath.Dir(p), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op once renamed
	gz := gzip.NewWriter(tmp)
	if err := json.NewEncoder(gz).Encode(state); err != nil {
		tmp.Close()
		return fmt.Errorf("encode game %q: %w", id, err)
	}
	if err := gz.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("close gzip writer: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("store game %q: %w", id, err)
	}
	return nil
}

func (s *FileStore) Exists(ctx context.Context, id GameID) (bool, error) {
	_, err := os.Stat(s.gamePath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat game %q: %w", id, err)
	}
	return true, nil
}

// ListRecent scans the store directory and orders games by file
// modification time.
func (s *FileStore) ListRecent(ctx context.Context, limit int) ([]GameInfo, error) {
	if limit <= 0 {
		return nil, nil
	}
	type fileEntry struct {
		id  GameID
		mod time.Time
	}
	var entries []fileEntry
	err := filepath.WalkDir(s.baseDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), gameFileExt) {
			return nil
		}
		name, err := url.PathUnescape(strings.TrimSuffix(d.Name(), gameFileExt))
		if err != nil {
			return nil // not a game file
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		entries = append(entries, fileEntry{id: GameID(name), mod: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan store directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].mod.After(entries[j].mod) })
	if len(entries) > limit {
		entries = entries[:limit]
	}
	infos := make([]GameInfo, 0, len(entries))
	for _, e := range entries {
		state, err := s.FindOne(ctx, e.id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue // removed since the scan
			}
			return nil, err
		}
		infos = append(infos, GameInfo{ID: e.id, StateID: state.StateID, Modified: e.mod})
	}
	return infos, nil
}

func (s *FileStore) Close() error {
	return nil
}

// acquireLock takes the store-wide advisory file lock, polling until the
// context is done. The returned func releases it.
func (s *FileStore) acquireLock(ctx context.Context) (func(), error) {
	fl := flock.New(s.lockPath)
	locked, err := fl.TryLockContext(ctx, 10*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("acquire store lock: %w", err)
	}
	if !locked {
		return nil, errors.New("acquire store lock: not acquired")
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			mlog.Errorf("Failed to release store lock %s: %v", s.lockPath, err)
		}
	}, nil
}
