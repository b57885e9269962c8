package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	var (
		path  string
		force bool
	)
	cfg := defaultConfig()

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a settings file with a fresh vault salt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := cfg.validate(); err != nil {
				return err
			}
			salt := make([]byte, 16)
			if _, err := rand.Read(salt); err != nil {
				return err
			}
			cfg.VaultSalt = hex.EncodeToString(salt)

			if err := writeSettings(path, cfg); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "wrote %s\n", path)
			fmt.Fprintln(out, "set NODEFLOW_VAULT_KEY in the environment to unlock stored credentials")
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&path, "path", settingsPath(), "settings file to write")
	f.BoolVar(&force, "force", false, "overwrite an existing settings file")
	f.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "HTTP listen address")
	f.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "database path")
	f.StringVar(&cfg.LogLevel, "level", cfg.LogLevel, "log level")
	f.IntVar(&cfg.PoolSize, "pool-size", cfg.PoolSize, "maximum concurrent runs")
	f.StringVar(&cfg.StatusBackend, "status-backend", cfg.StatusBackend, "live status backend: memory or redis")
	f.StringVar(&cfg.QueueBackend, "queue-backend", cfg.QueueBackend, "trigger queue backend: memory or redis")
	f.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "redis address")
	return cmd
}
