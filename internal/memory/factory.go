package memory

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
)

// NewStore returns a postgres-backed store when databaseURL is set, otherwise in-memory.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		log.Info().Msg("history store: in-memory")
		return NewInMemoryStore(), nil
	}
	store, err := NewPostgresStore(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	log.Info().Msg("history store: postgres")
	return store, nil
}
