package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/simgate"
)

// createCheckCommand probes the backend's health endpoint directly, once,
// without going through a running daemon. Useful for diagnosing whether the
// backend or the gate is the problem.
func createCheckCommand(globalFlags *GlobalFlags) *cobra.Command {
	var baseURL string
	var path string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Probe the backend health endpoint once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if globalFlags.ConfigPath != "" {
				cfg, err := simgate.LoadConfig(globalFlags.ConfigPath)
				if err != nil {
					return fmt.Errorf("error loading config: %w", err)
				}
				if !cmd.Flags().Changed("url") {
					baseURL = cfg.BackendBaseURL()
				}
				if !cmd.Flags().Changed("path") {
					path = cfg.Health.Path
				}
			}
			probe := simgate.NewHTTPProbe(baseURL, path)
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := probe.Check(ctx); err != nil {
				return fmt.Errorf("backend not healthy (%s): %w", probe.Describe(), err)
			}
			fmt.Printf("backend healthy (%s)\n", probe.Describe())
			return nil
		},
	}

	cmd.Flags().StringVar(&baseURL, "url", "http://127.0.0.1:8080", "backend base URL")
	cmd.Flags().StringVar(&path, "path", "/api/health", "health endpoint path")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Second, "probe timeout")
	return cmd
}
