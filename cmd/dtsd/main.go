package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/dts-project/dts/pkg/config"
	"github.com/dts-project/dts/pkg/daemon"
	"github.com/dts-project/dts/pkg/log"
	"github.com/dts-project/dts/pkg/metrics"
	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "dtsd",
	Short:   "dtsd runs one node of a DTS queue cluster",
	Version: Version,
	RunE:    runDaemon,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("dtsd version %s (%s)\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.Flags().String("config", "", "Path to a dts_config file or directory (default: $DTS_CONFIG or ~/.dts_config)")
	rootCmd.Flags().String("node", "", "This process's node name (default: the dts stanza matching the local hostname)")
	rootCmd.Flags().String("data-dir", "/var/dts", "Spool and journal root directory")
	rootCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address for the metrics and health HTTP endpoints")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

func runDaemon(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	nodeName, _ := cmd.Flags().GetString("node")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if nodeName != "" {
		cfg.Self = nodeName
	}
	if cfg.Self == "" {
		hostname, herr := os.Hostname()
		if herr != nil {
			return fmt.Errorf("no --node given and hostname lookup failed: %w", herr)
		}
		cfg.Self = hostname
	}

	d, err := daemon.New(cfg, dataDir)
	if err != nil {
		return fmt.Errorf("constructing daemon: %w", err)
	}

	metrics.SetVersion(Version)
	metrics.RegisterComponent("spool", false, "starting")
	metrics.RegisterComponent("xrpc", false, "starting")

	go func() {
		http.Handle("/metrics", metrics.Handler())
		http.Handle("/health", metrics.HealthHandler())
		http.Handle("/ready", metrics.ReadyHandler())
		http.Handle("/live", metrics.LivenessHandler())
		if err := http.ListenAndServe(metricsAddr, nil); err != nil {
			log.WithComponent("dtsd").Error().Err(err).Msg("metrics server exited")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("starting daemon: %w", err)
	}
	fmt.Printf("dtsd running as node %q, command port %s\n", cfg.Self, d.Addr())
	fmt.Printf("metrics and health: http://%s/metrics\n", metricsAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Println("shutting down...")
	d.Stop()
	return nil
}
