package main

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"

	_ "github.com/jimmicro/version"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jimyag/vmhost/internal/vmhost"
	"github.com/jimyag/vmhost/internal/vmhost/config"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vmhost",
	Short: "vmhost - VM lifecycle manager",
	Long: `vmhost manages the lifecycle of virtual machines (create, start, stop,
suspend, resume, restart, destroy, clone, snapshots) on top of a provisioning
backend such as Vagrant or libvirt, and exposes it over a REST API.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the vmhost API server",
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Fprintln(cmd.OutOrStdout(), "vmhost (unknown build)")
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "vmhost %s (%s)\n", info.Main.Version, info.GoVersion)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file (env VMHOST_CONFIG)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.New(configPath)
	if err != nil {
		return err
	}
	server, err := vmhost.New(cfg)
	if err != nil {
		return err
	}
	log.Info().Str("address", cfg.Address).Msg("Starting vmhost")
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return server.Run(ctx)
}
