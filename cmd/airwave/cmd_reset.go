/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/friendsincode/airwave/internal/config"
	"github.com/friendsincode/airwave/internal/media"
	"github.com/friendsincode/airwave/internal/playout"
)

var resetForce bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete queued audio and the persisted queue mirror",
	Long: `Reset Airwave to an empty queue.

This command will:
- Delete every file in the sound and temp directories
- Remove the Redis queue keys when the redis queue backend is configured

Do not run it against a live server; the server resets itself on startup.

Examples:
  # Interactive reset (will prompt for confirmation)
  airwave reset

  # Force reset without confirmation
  airwave reset --force
`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVarP(&resetForce, "force", "f", false, "Skip confirmation prompt")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	if !resetForce {
		fmt.Fprintf(cmd.OutOrStdout(), "This deletes all audio in %s and %s.\n", cfg.SoundDir, cfg.TempDir)
		fmt.Fprint(cmd.OutOrStdout(), "Type 'yes' to confirm reset: ")
		response, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
		if strings.TrimSpace(strings.ToLower(response)) != "yes" {
			fmt.Fprintln(cmd.OutOrStdout(), "Reset cancelled.")
			return nil
		}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	library := media.NewLibrary(cfg, logger)
	if err := library.Init(ctx); err != nil {
		return fmt.Errorf("reset media directories: %w", err)
	}
	defer library.Close()

	if cfg.QueueBackend == config.QueueRedis {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer client.Close()
		if err := playout.NewRedisStore(client, "").Reset(ctx); err != nil {
			return fmt.Errorf("reset redis queue: %w", err)
		}
		logger.Info().Str("addr", cfg.RedisAddr).Msg("redis queue mirror cleared")
	}

	logger.Info().Msg("reset complete")
	return nil
}
