package fetch

import (
	"context"

	"github.com/mossyoak/genfetch/internal/api"
)

// SourceAPI is the slice of the record API the fetcher depends on.
// Satisfied by *api.Client; mocked in tests.
type SourceAPI interface {
	AttachedSources(ctx context.Context, pid string) ([]api.SourceDescription, error)
	SearchSources(ctx context.Context, pid string) ([]api.SearchEntry, error)
	PersonaRecord(ctx context.Context, arkID string) ([]byte, bool, error)
}
