// Copyright 2025 NovaDrive Authors
// SPDX-License-Identifier: Apache-2.0

// Package cmd provides the NovaDrive CLI commands.
package cmd

import (
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configDir string

var rootCmd = &cobra.Command{
	Use:   "novadrive",
	Short: "NovaDrive - resumable upload coordination and file enrichment",
	Long: `NovaDrive coordinates chunked, resumable file uploads into object
storage and runs an asynchronous enrichment pipeline that tags and
summarizes finished files.`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config_dir", ".", "Directory for configuration files")
}

// loadConfiguration merges the named config file into viper. Environment
// variables (dots replaced by underscores) override file values.
func loadConfiguration(configFileName string) bool {
	viper.SetConfigName(configFileName)
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.novadrive")
	viper.AddConfigPath("/etc/novadrive/")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.MergeInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Info().Msgf("Config file not found: %s", configFileName)
			return false
		}
		log.Warn().Err(err).Msgf("Failed to load config file: %s", configFileName)
		return false
	}
	log.Info().Msgf("Loaded config file: %s", viper.ConfigFileUsed())
	return true
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
