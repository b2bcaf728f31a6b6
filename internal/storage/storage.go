package storage

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
)

// MaxVariables caps the number of variables in one snapshot.
const MaxVariables = 1024

// Rules describes every constraint SetEnvironment enforces.
var Rules = fmt.Sprintf("at most %d variables; names must be non-empty and must not contain '=' or NUL; values must not contain NUL", MaxVariables)

var (
	// ErrInvalidEnvironment indicates the provided snapshot violates Rules.
	ErrInvalidEnvironment = errors.New("invalid environment")
)

// Storage provides access to the environment snapshot used by the resolver.
type Storage interface {
	GetEnvironment() (map[string]string, error)
	SetEnvironment(env map[string]string) error
}

// MemoryStorage keeps the snapshot in-memory and guards access with a RWMutex.
type MemoryStorage struct {
	mu  sync.RWMutex
	env map[string]string
}

// NewMemoryStorage initialises storage with an empty snapshot.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		env: map[string]string{},
	}
}

// GetEnvironment returns a copy of the current snapshot.
func (s *MemoryStorage) GetEnvironment() (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return clone(s.env), nil
}

// SetEnvironment validates and stores a copy of env.
func (s *MemoryStorage) SetEnvironment(env map[string]string) error {
	if err := validate(env); err != nil {
		return err
	}

	copied := clone(env)

	s.mu.Lock()
	s.env = copied
	s.mu.Unlock()

	return nil
}

func clone(src map[string]string) map[string]string {
	out := make(map[string]string, len(src))
	maps.Copy(out, src)
	return out
}

func validate(env map[string]string) error {
	if len(env) > MaxVariables {
		return fmt.Errorf("%w: %d variables exceeds the limit of %d", ErrInvalidEnvironment, len(env), MaxVariables)
	}
	for key, value := range env {
		switch {
		case key == "":
			return fmt.Errorf("%w: empty variable name", ErrInvalidEnvironment)
		case strings.ContainsAny(key, "=\x00"):
			return fmt.Errorf("%w: variable name %q contains '=' or NUL", ErrInvalidEnvironment, key)
		case strings.ContainsRune(value, 0):
			return fmt.Errorf("%w: value of %q contains NUL", ErrInvalidEnvironment, key)
		}
	}
	return nil
}
