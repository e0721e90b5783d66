package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/riverstream/hlsd/internal/config"
	"github.com/riverstream/hlsd/internal/hlsconfig"
	"github.com/riverstream/hlsd/internal/observability"
)

var serveVhost string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the segmenter against the configured directive tree",
	Long: `serve resolves and validates the hls.* directive tree for --vhost,
logs the resolved settings, and waits for SIGINT or SIGTERM. It does not
start a stream or write any playlist or segment itself.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveVhost, "vhost", "__defaultVhost__", "vhost to resolve directives for")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	logCfg := config.DefaultLoggingConfig()
	logCfg.Level = viper.GetString("log.level")
	logCfg.Format = viper.GetString("log.format")
	log := observability.NewLogger(logCfg)

	directives := hlsconfig.NewViperDirectives(viper.GetViper())
	resolved := hlsconfig.Resolve(directives, serveVhost)
	if err := resolved.Validate(); err != nil {
		return fmt.Errorf("invalid hls configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("hlsd ready",
		"vhost", serveVhost,
		"path", resolved.Path,
		"fragment", resolved.FragmentDuration,
		"use_fmp4", resolved.UseFMP4)

	<-ctx.Done()
	log.Info("hlsd shutting down")
	return nil
}
