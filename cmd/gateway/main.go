package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "gateway",
		Short: "Admission gateway",
		Long:  "Admission gateway: rate limit, authentication and validation in front of an upstream HTTP service.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("GATEWAY_CONFIG"), "path to the TOML configuration file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway.",
		Long:  "Run the gateway. Configuration is read from the TOML file and environment variables (which take precedence).",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	checkCmd := &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration and exit.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration OK: %d route(s), listen %s\n", len(cfg.Routes), cfg.Listen)
			return nil
		},
	}

	rootCmd.AddCommand(serveCmd, checkCmd)
	return rootCmd
}

func runServe(parent context.Context, configPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, err := newGateway(ctx, cfg, log, gatewayDeps{})
	if err != nil {
		log.WithError(err).Error("gateway setup failed")
		return err
	}
	defer g.Close()

	log.WithFields(logrus.Fields{
		"rate_enabled":  cfg.RateLimit.Enabled,
		"capacity":      cfg.RateLimit.Capacity,
		"refill":        cfg.RateLimit.RefillPerSecond,
		"precedence":    cfg.RateLimit.IdentityPrecedence,
		"auth":          cfg.Auth.JWTSecret != "",
		"redis_stats":   cfg.Stats.Redis.Enabled,
		"metrics":       cfg.Stats.Prometheus,
		"concurrency":   cfg.Concurrency.Max,
		"drain_timeout": cfg.Shutdown.DrainTimeoutSeconds,
	}).Info("gateway configured")

	if err := g.serve(ctx); err != nil {
		log.WithError(err).Error("server error")
		return err
	}
	return nil
}
