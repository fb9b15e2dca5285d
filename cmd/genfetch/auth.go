package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/mossyoak/genfetch/internal/auth"
)

func authCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage API session tokens",
		Long: `Manage the saved API session tokens.

Tokens are persisted so later runs can reuse them; fetch commands validate
them automatically, so these subcommands exist for checking and priming a
token pool ahead of a large batch.`,
	}

	cmd.AddCommand(authValidateCmd())
	cmd.AddCommand(authRefreshCmd())

	return cmd
}

func authValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate saved tokens, replacing any the API rejects",
		RunE:  runAuthValidate,
	}

	cmd.Flags().IntP("tokens", "n", 1, "pool size to validate (one token per worker)")

	return cmd
}

func runAuthValidate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	size, _ := cmd.Flags().GetInt("tokens")

	cfg, err := authConfig()
	if err != nil {
		return err
	}

	pool, err := auth.NewPool(cfg, size)
	if err != nil {
		return err
	}
	if err := pool.Validate(ctx); err != nil {
		return err
	}

	slog.Info("Tokens validated", "count", pool.Size())
	fmt.Printf("%d token(s) valid and saved\n", pool.Size())
	return nil
}

func authRefreshCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Force-replace the saved token with a fresh session",
		RunE:  runAuthRefresh,
	}

	return cmd
}

func runAuthRefresh(cmd *cobra.Command, _ []string) error {
	cfg, err := authConfig()
	if err != nil {
		return err
	}

	store, err := auth.NewStore(cfg)
	if err != nil {
		return err
	}
	if _, err := store.Refresh(cmd.Context()); err != nil {
		return err
	}

	slog.Info("Token refreshed", "state_file", cfg.StatePath)
	fmt.Println("token refreshed and saved")
	return nil
}
