package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"rescuefusion/internal/config"
)

var (
	version    = "dev"
	configPath string
)

var rootCmd = &cobra.Command{
	Use:           "rescuefusion",
	Short:         "Fuse CCTV detections and WiFi CSI signals into tracked, risk-scored survivors",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML or JSON config file")
}

func loadConfig() (*config.Manager, error) {
	return config.NewManager(config.ResolvePath(configPath))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
