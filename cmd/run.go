package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wasmforge/kernel/config"
	"github.com/wasmforge/kernel/runtime"
)

func initRun(rootCommand *cobra.Command) {
	var configFile, logLevel, logFormat string

	runCommand := &cobra.Command{
		Use:   "run",
		Short: "Start the kernel",
		Long:  "Start the kernel: open storage, resolve identity, discover and load plugins, and run the message router until signalled to stop.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKernel(configFile, logLevel, logFormat)
		},
	}

	runCommand.Flags().StringVarP(&configFile, "config", "c", "./kernel.yaml", "path to a YAML configuration file")
	runCommand.Flags().StringVar(&logLevel, "log-level", "", "override the config file's log.level")
	runCommand.Flags().StringVar(&logFormat, "log-format", "", "override the config file's log.format")
	rootCommand.AddCommand(runCommand)
}

func runKernel(configFile, logLevel, logFormat string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}

	k, err := runtime.New(cfg)
	if err != nil {
		return fmt.Errorf("starting kernel: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	k.Logger.Info("kernel: starting, plugins dir=%s auto_load=%v", cfg.Plugins.Directory, cfg.Plugins.AutoLoad)

	err = k.Run(ctx)
	k.Shutdown()
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}
