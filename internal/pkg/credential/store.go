package credential

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Store 持有 Bearer 凭据，可选落盘到文件
type Store struct {
	mu    sync.RWMutex
	token string
	path  string
}

// NewStore 配置中的 token 优先，否则在 Load 时读取文件
func NewStore(token, path string) *Store {
	return &Store{token: strings.TrimSpace(token), path: path}
}

// Load 读取凭据，文件不存在时返回空串
func (s *Store) Load() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" || s.path == "" {
		return s.token, nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read token file: %w", err)
	}
	s.token = strings.TrimSpace(string(data))
	return s.token, nil
}

func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Clear 丢弃凭据，强制重新登录
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = ""
	if s.path == "" {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove token file: %w", err)
	}
	return nil
}
