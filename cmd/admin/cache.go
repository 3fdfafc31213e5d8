package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"faceattend/internal/model"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Embedding cache management",
	Long:  `Commands for managing the embedding cache used by matching.`,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every cached embedding",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.Cache.Clear(ctx)
		if err != nil {
			return fmt.Errorf("clear cache: %w", err)
		}
		actor, _ := cmd.Flags().GetString("actor")
		err = a.Sessions.Session().Audit().Append(ctx, model.AuditEntry{
			ID:        uuid.NewString(),
			ActorKey:  actor,
			Action:    model.AuditCacheClear,
			Detail:    fmt.Sprintf("%d keys", n),
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("write audit entry: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "cleared %d keys\n", n)
		return nil
	},
}

var cacheWarmCmd = &cobra.Command{
	Use:   "warm",
	Short: "Load every enrolled embedding into the cache",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		if a.Config.CacheBackend != "redis" {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: CACHE_BACKEND=%s is not shared, warming has no lasting effect\n", a.Config.CacheBackend)
		}

		n, err := a.Engine().Warm(ctx, a.Sessions.Session())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "cached %d embeddings\n", n)
		return nil
	},
}

func init() {
	cacheClearCmd.Flags().String("actor", "admin-cli", "Actor recorded in the audit log")
	cacheCmd.AddCommand(cacheClearCmd, cacheWarmCmd)
	rootCmd.AddCommand(cacheCmd)
}
