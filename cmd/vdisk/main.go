package main

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jbweber/vdisk/internal/config"
	"github.com/jbweber/vdisk/internal/logging"
)

var (
	version = "dev"
	commit  = "unknown"
)

var (
	configPath string
	cfg        *config.Config
	log        *logrus.Entry
	logCloser  io.Closer
	v          = viper.New()
)

func main() {
	err := rootCmd.Execute()
	if logCloser != nil {
		_ = logCloser.Close()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vdisk",
	Short: "vdisk - virtual disk image management tool",
	Long: `vdisk creates, opens, resizes, mirrors and inspects virtual disk images.

On Windows it drives the virtual disk service (virtdisk.dll). Elsewhere the
images live as volumes of a libvirt storage pool.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.LoadWith(v, configPath)
		if err != nil {
			return err
		}
		logger, closer, err := logging.New(loaded.Logging)
		if err != nil {
			return err
		}

		cfg = loaded
		logCloser = closer
		log = logrus.NewEntry(logger)
		log.WithField("backend", cfg.ResolvedBackend()).Debug("Configuration loaded")
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "config file (default "+config.DefaultConfigPath()+")")
	flags.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	flags.String("backend", config.BackendAuto, "virtual disk backend (auto, libvirt, virtdisk)")
	flags.StringP("output", "o", "table", "output format (table, yaml, json)")
	flags.Bool("no-headers", false, "omit headers in table output")
	flags.Duration("poll-interval", 0, "delay between progress queries of asynchronous operations")

	_ = v.BindPFlag("logging.level", flags.Lookup("log-level"))
	_ = v.BindPFlag("backend", flags.Lookup("backend"))
	_ = v.BindPFlag("defaults.output", flags.Lookup("output"))
	_ = v.BindPFlag("operations.poll_interval", flags.Lookup("poll-interval"))

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(resizeCmd)
	rootCmd.AddCommand(mirrorCmd)
	rootCmd.AddCommand(depsCmd)
	rootCmd.AddCommand(metadataCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(poolCmd)
	rootCmd.AddCommand(testConnCmd)
}
