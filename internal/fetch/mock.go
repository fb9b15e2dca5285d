package fetch

import (
	"context"
	"sync"

	"github.com/mossyoak/genfetch/internal/api"
)

// MockAPI is a test double for SourceAPI backed by fixture maps.
type MockAPI struct {
	mu sync.Mutex

	Attached map[string][]api.SourceDescription
	Searched map[string][]api.SearchEntry
	Records  map[string][]byte

	AttachedErr  error
	AttachedErrs map[string]error
	SearchedErr  error
	RecordErr    error

	RecordCalls []string
}

// NewMockAPI creates an empty mock.
func NewMockAPI() *MockAPI {
	return &MockAPI{
		Attached:     make(map[string][]api.SourceDescription),
		AttachedErrs: make(map[string]error),
		Searched:     make(map[string][]api.SearchEntry),
		Records:      make(map[string][]byte),
	}
}

// AttachedSources returns the fixture attached sources for a person.
func (m *MockAPI) AttachedSources(_ context.Context, pid string) ([]api.SourceDescription, error) {
	if m.AttachedErr != nil {
		return nil, m.AttachedErr
	}
	if err := m.AttachedErrs[pid]; err != nil {
		return nil, err
	}
	return m.Attached[pid], nil
}

// SearchSources returns the fixture search entries for a person.
func (m *MockAPI) SearchSources(_ context.Context, pid string) ([]api.SearchEntry, error) {
	if m.SearchedErr != nil {
		return nil, m.SearchedErr
	}
	return m.Searched[pid], nil
}

// PersonaRecord returns the fixture document for an ark id, recording the
// call order.
func (m *MockAPI) PersonaRecord(_ context.Context, arkID string) ([]byte, bool, error) {
	m.mu.Lock()
	m.RecordCalls = append(m.RecordCalls, arkID)
	m.mu.Unlock()

	if m.RecordErr != nil {
		return nil, false, m.RecordErr
	}
	doc, ok := m.Records[arkID]
	return doc, ok, nil
}
