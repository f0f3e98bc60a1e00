package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/simgate"
	sqlitestore "github.com/loykin/simgate/internal/store/sqlite"
	"github.com/loykin/simgate/pkg/client"
)

func newClient(f *APIFlags) *client.Client {
	return client.New(client.Config{BaseURL: f.URL, Timeout: f.Timeout})
}

func createStatusCommand(globalFlags *GlobalFlags) *cobra.Command {
	apiFlags := &APIFlags{}
	var history int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the backend process and readiness gate state",
		Long: `Show the current launch state from a running daemon. With --history,
read recent launch outcomes from the local launch store instead (requires
--config so the store path is known).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if history > 0 {
				return printHistory(globalFlags.ConfigPath, history)
			}
			c := newClient(apiFlags)
			ctx, cancel := context.WithTimeout(context.Background(), apiFlags.Timeout)
			defer cancel()
			st, err := c.Status(ctx)
			if err != nil {
				return fmt.Errorf("daemon unreachable at %s: %w", apiFlags.URL, err)
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		},
	}
	addAPIFlags(cmd, apiFlags)
	cmd.Flags().IntVar(&history, "history", 0, "show the N most recent launches from the local store")
	return cmd
}

func printHistory(configPath string, limit int) error {
	if configPath == "" {
		return fmt.Errorf("--history requires --config so the store path is known")
	}
	cfg, err := simgate.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if cfg.Store == nil || cfg.Store.Path == "" {
		return fmt.Errorf("no [store] path configured in %s", configPath)
	}
	db, err := sqlitestore.New(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open launch store: %w", err)
	}
	defer func() { _ = db.Close() }()
	if err := db.EnsureSchema(context.Background()); err != nil {
		return fmt.Errorf("prepare launch store: %w", err)
	}
	launches, err := db.Recent(context.Background(), limit)
	if err != nil {
		return fmt.Errorf("read launch history: %w", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(launches)
}

func createWaitCommand() *cobra.Command {
	apiFlags := &APIFlags{}
	var timeout time.Duration
	var poll time.Duration
	cmd := &cobra.Command{
		Use:   "wait",
		Short: "Block until the backend is ready or has failed",
		Long: `Poll the readiness gate until it reports a verdict. Exits 0 when the
backend is ready and non-zero when the launch failed or the wait timed out.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(apiFlags)
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := c.WaitReady(ctx, poll); err != nil {
				return err
			}
			fmt.Println("backend is ready")
			return nil
		},
	}
	addAPIFlags(cmd, apiFlags)
	cmd.Flags().DurationVar(&timeout, "timeout", 60*time.Second, "give up after this long")
	cmd.Flags().DurationVar(&poll, "poll", 500*time.Millisecond, "gate polling interval")
	return cmd
}

func createStopCommand() *cobra.Command {
	apiFlags := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Terminate the supervised backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(apiFlags)
			ctx, cancel := context.WithTimeout(context.Background(), apiFlags.Timeout)
			defer cancel()
			if err := c.Stop(ctx); err != nil {
				return err
			}
			fmt.Println("backend stopped")
			return nil
		},
	}
	addAPIFlags(cmd, apiFlags)
	return cmd
}
