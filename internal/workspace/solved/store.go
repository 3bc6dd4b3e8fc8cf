package solved

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"practiceoj/internal/common/cache"
	appErr "practiceoj/pkg/errors"
)

// FileStore persists ids as a flat JSON array.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *FileStore) Add(ctx context.Context, problemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, err := s.read()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == problemID {
			return nil
		}
	}
	ids = append(ids, problemID)
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return appErr.Wrapf(err, appErr.SolvedStoreFailed, "create solved store dir failed")
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return appErr.Wrapf(err, appErr.SolvedStoreFailed, "marshal solved store failed")
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return appErr.Wrapf(err, appErr.SolvedStoreFailed, "write solved store failed")
	}
	return nil
}

func (s *FileStore) read() ([]string, error) {
	ids := []string{}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return ids, nil
		}
		return nil, appErr.Wrapf(err, appErr.SolvedStoreFailed, "read solved store failed")
	}
	if len(data) == 0 {
		return ids, nil
	}
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, appErr.Wrapf(err, appErr.SolvedStoreFailed, "parse solved store failed")
	}
	return ids, nil
}

const solvedKeyPrefix = "practiceoj:solved:"

// RedisStore persists ids as a Redis set per profile.
type RedisStore struct {
	set     cache.SetOps
	key     string
	timeout time.Duration
}

func NewRedisStore(set cache.SetOps, profile string, timeout time.Duration) *RedisStore {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &RedisStore{set: set, key: solvedKeyPrefix + profile, timeout: timeout}
}

func (s *RedisStore) Load(ctx context.Context) ([]string, error) {
	ctxCache, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ids, err := s.set.SMembers(ctxCache, s.key)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.SolvedStoreFailed, "load solved set failed")
	}
	return ids, nil
}

func (s *RedisStore) Add(ctx context.Context, problemID string) error {
	ctxCache, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.set.SAdd(ctxCache, s.key, problemID); err != nil {
		return appErr.Wrapf(err, appErr.SolvedStoreFailed, "add to solved set failed")
	}
	return nil
}
