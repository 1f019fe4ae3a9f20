package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/srg/blecollector/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate the YAML configuration, then exit",
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().StringP("config", "c", "blecollector.yaml", "Path to the YAML configuration file")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	fmt.Printf("%s: valid (%d peripherals configured)\n", configPath, len(cfg.Peripherals))
	return nil
}
