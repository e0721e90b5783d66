// Package cmd implements the CLI commands for hlsd.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/riverstream/hlsd/internal/config"
	"github.com/riverstream/hlsd/internal/hlsconfig"
	"github.com/riverstream/hlsd/internal/observability"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "hlsd",
	Short: "Publisher-driven HLS segmenter",
	Long: `hlsd accepts decoded live audio/video access units for a single stream
and continuously produces an HLS presentation: a rolling .m3u8 playlist plus
its MPEG-TS or fragmented MP4 segments.`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		initLogging()
		return nil
	},
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.hlsd.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log format (text, json)")

	mustBindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	mustBindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

func initConfig() {
	hlsconfig.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/hlsd")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".hlsd")
	}

	viper.SetEnvPrefix("HLSD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func initLogging() {
	cfg := config.DefaultLoggingConfig()
	cfg.Level = strings.ToLower(viper.GetString("log.level"))
	cfg.Format = strings.ToLower(viper.GetString("log.format"))
	observability.SetLogLevel(cfg.Level)
}

func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %q to key %q: %v", flag.Name, key, err))
	}
}
