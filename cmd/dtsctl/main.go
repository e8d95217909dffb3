package main

import (
	"fmt"
	"os"

	"github.com/dts-project/dts/pkg/config"
	"github.com/dts-project/dts/pkg/xrpc"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dtsctl",
	Short: "dtsctl drives a running dtsd node's queue-control RPCs",
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to a dts_config file or directory (default: $DTS_CONFIG or ~/.dts_config)")
	rootCmd.PersistentFlags().String("node", "", "Target node name (default: the dts stanza matching the local hostname)")

	rootCmd.AddCommand(
		queueSubcommand("start", "startQueue", "Resume a paused queue"),
		queueSubcommand("stop", "stopQueue", "Request a graceful drain-and-stop of a queue"),
		queueSubcommand("pause", "pauseQueue", "Pause a queue after its in-flight hop finishes"),
		queueSubcommand("poke", "pokeQueue", "Discard a queue's current slot without processing it"),
		queueSubcommand("flush", "flushQueue", "Discard a queue's entire backlog"),
		queueSubcommand("print-cfg", "printQueueCfg", "Print a queue's static configuration"),
		listCmd,
	)
}

func dial(cmd *cobra.Command) (*xrpc.Client, *config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	nodeName, _ := cmd.Flags().GetString("node")

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if nodeName != "" {
		cfg.Self = nodeName
	}
	if cfg.Self == "" {
		hostname, herr := os.Hostname()
		if herr != nil {
			return nil, nil, fmt.Errorf("no --node given and hostname lookup failed: %w", herr)
		}
		cfg.Self = hostname
	}

	node, ok := cfg.Node(cfg.Self)
	if !ok {
		return nil, nil, fmt.Errorf("node %q not present in config", cfg.Self)
	}

	cl, err := xrpc.Dial(node.Addr(), cfg.Password)
	if err != nil {
		return nil, nil, err
	}
	return cl, cfg, nil
}

func queueSubcommand(use, method, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <queue>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, _, err := dial(cmd)
			if err != nil {
				return err
			}
			defer cl.Close()

			results, err := cl.Call(method, args[0])
			if err != nil {
				return err
			}
			for _, r := range results {
				fmt.Println(r)
			}
			return nil
		},
	}
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List every queue registered on the target node",
	RunE: func(cmd *cobra.Command, args []string) error {
		cl, _, err := dial(cmd)
		if err != nil {
			return err
		}
		defer cl.Close()

		results, err := cl.Call("listQueue")
		if err != nil {
			return err
		}
		fmt.Println("NAME TYPE STATE BACKLOG")
		for _, r := range results {
			fmt.Println(r)
		}
		return nil
	},
}
