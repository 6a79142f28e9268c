package nyx

import (
	"context"
	"fmt"
	"sync"

	"github.com/tartarus-sandbox/elysium/pkg/domain"
)

// MemorySource is an in-process Source, used by tests and dry runs.
type MemorySource struct {
	mu        sync.Mutex
	configs   []domain.SourceConfig
	snapshots map[string][]domain.Snapshot
	calls     int

	// Err, when set, is returned from every call.
	Err error
}

func NewMemorySource(configs ...domain.SourceConfig) *MemorySource {
	return &MemorySource{
		configs:   configs,
		snapshots: make(map[string][]domain.Snapshot),
	}
}

// SetSnapshots replaces the snapshot list of a config.
func (s *MemorySource) SetSnapshots(configName string, snaps ...domain.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]domain.Snapshot, len(snaps))
	copy(cp, snaps)
	s.snapshots[configName] = cp
}

// Calls reports how many ListSnapshots calls were served.
func (s *MemorySource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *MemorySource) ListConfigs(ctx context.Context) ([]domain.SourceConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return nil, &SourceError{Op: "list configs", Err: s.Err}
	}
	result := make([]domain.SourceConfig, len(s.configs))
	copy(result, s.configs)
	return result, nil
}

func (s *MemorySource) ListSnapshots(ctx context.Context, configName string) ([]domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.Err != nil {
		return nil, &SourceError{Op: "list snapshots", Err: s.Err}
	}
	snaps, ok := s.snapshots[configName]
	if !ok {
		return nil, &SourceError{Op: "list snapshots", Err: fmt.Errorf("unknown config %q", configName)}
	}
	result := make([]domain.Snapshot, len(snaps))
	copy(result, snaps)
	return result, nil
}
