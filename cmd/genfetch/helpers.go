package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/mossyoak/genfetch/internal/api"
	"github.com/mossyoak/genfetch/internal/auth"
	"github.com/mossyoak/genfetch/internal/common"
	"github.com/mossyoak/genfetch/internal/fetch"
	"github.com/mossyoak/genfetch/internal/storage"
)

func newWarnLog() *common.WarnLog {
	path := viper.GetString("logging.warn_file")
	if path == "" {
		return nil
	}
	return common.NewWarnLog(path)
}

func newProvider() (auth.Provider, error) {
	clientID := viper.GetString("api.client_id")
	if clientID == "" {
		clientID = os.Getenv("GENFETCH_CLIENT_ID")
	}
	if clientID == "" {
		return nil, common.NewUserError(
			"no API client id configured; set api.client_id in the config file or GENFETCH_CLIENT_ID",
			common.ErrMissingConfig)
	}

	identURL := viper.GetString("api.ident_url")
	if identURL == "" {
		identURL = "https://ident.familysearch.org"
	}

	return auth.NewSessionProvider(identURL, clientID, viper.GetString("api.ip_address")), nil
}

func authConfig() (auth.Config, error) {
	provider, err := newProvider()
	if err != nil {
		return auth.Config{}, err
	}

	statePath := viper.GetString("auth.state_file")
	if statePath == "" {
		statePath, err = auth.DefaultStatePath()
		if err != nil {
			slog.Warn("Token persistence disabled", "error", err)
		}
	}

	return auth.Config{
		BaseURL:   viper.GetString("api.base_url"),
		StatePath: statePath,
		Provider:  provider,
	}, nil
}

// newClients builds one rate-limited API client per worker, each with its
// own token slot. Tokens are validated (and refreshed as needed) before
// any work starts.
func newClients(ctx context.Context, workers int, warn *common.WarnLog) ([]*api.Client, error) {
	cfg, err := authConfig()
	if err != nil {
		return nil, err
	}

	clientCfg := api.Config{
		BaseURL:           cfg.BaseURL,
		Collection:        viper.GetString("api.collection"),
		WarnLog:           warn,
		RequestsPerSecond: viper.GetFloat64("api.rate"),
	}

	if workers <= 1 {
		store, err := auth.NewStore(cfg)
		if err != nil {
			return nil, err
		}
		if err := store.Validate(ctx); err != nil {
			return nil, err
		}
		clientCfg.Tokens = store
		client, err := api.NewClient(clientCfg)
		if err != nil {
			return nil, err
		}
		return []*api.Client{client}, nil
	}

	pool, err := auth.NewPool(cfg, workers)
	if err != nil {
		return nil, err
	}
	if err := pool.Validate(ctx); err != nil {
		return nil, err
	}

	clients := make([]*api.Client, 0, workers)
	for i := 0; i < workers; i++ {
		slotCfg := clientCfg
		slotCfg.Tokens = pool.Slot(i)
		client, err := api.NewClient(slotCfg)
		if err != nil {
			return nil, err
		}
		clients = append(clients, client)
	}
	return clients, nil
}

// newFetchers wraps one fetcher around each worker client.
func newFetchers(ctx context.Context, workers int, warn *common.WarnLog) ([]*fetch.Fetcher, error) {
	clients, err := newClients(ctx, workers, warn)
	if err != nil {
		return nil, err
	}
	fetchers := make([]*fetch.Fetcher, 0, len(clients))
	for _, client := range clients {
		fetchers = append(fetchers, fetch.New(client))
	}
	return fetchers, nil
}

func openBatchStore(path string) (*storage.BatchStore, error) {
	if path == "" {
		path = viper.GetString("database.path")
	}
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, ".local", "share", "genfetch", "genfetch.db")
	}

	store, err := storage.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open batch database: %w", err)
	}
	return store, nil
}
