// Command netwall-flowd runs the syslog ingestion, flow reconstruction,
// and query API service described in spec §2/§6. It only wires flags to
// config.Config and calls server.Run; everything else lives in
// internal/server.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/matnordlund/netwall-flow-analyzer/internal/config"
	"github.com/matnordlund/netwall-flow-analyzer/internal/logger"
	"github.com/matnordlund/netwall-flow-analyzer/internal/server"
)

var v = viper.New()

var rootCmd = &cobra.Command{
	Use:   "netwall-flowd",
	Short: "NetWall flow analyzer: syslog ingestion, flow reconstruction, and query API",
	RunE:  run,
}

func init() {
	v.SetEnvPrefix("NETWALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := config.BindFlags(rootCmd, v); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	var cfg config.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	config.ApplyDefaults(&cfg)
	if err := config.Validate(&cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	if err := logger.Init(logger.Config{Level: cfg.LogLevel, Format: "json", Output: "stdout"}); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logger.Info("starting netwall-flowd",
		"web_port", cfg.WebPort,
		"syslog_port", cfg.SyslogPort,
		"year_mode", string(cfg.YearMode),
	)

	return server.Run(context.Background(), &cfg)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
