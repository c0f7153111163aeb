// Package commands implements the edged development CLI: a demo server
// hosting an echo actor over the framed RPC transport, and a client
// command that calls it. The core library is consumed purely
// programmatically; this binary exists to exercise it end to end.
package commands

import (
	"io"
	"log"
	"os"

	btclogv1 "github.com/btcsuite/btclog"
	"github.com/btcsuite/btclog/v2"
	"github.com/roasbeef/edgerpc/internal/build"
	"github.com/roasbeef/edgerpc/internal/calls"
	"github.com/roasbeef/edgerpc/internal/codec"
	"github.com/roasbeef/edgerpc/internal/invoke"
	"github.com/roasbeef/edgerpc/internal/system"
	"github.com/roasbeef/edgerpc/internal/transport"
	"github.com/roasbeef/edgerpc/internal/wire"
	"github.com/spf13/cobra"
)

var (
	// configPath optionally points at a YAML system config.
	configPath string

	// logDir is the directory for rotated log files. Empty disables
	// file logging.
	logDir string

	// debugLevel selects the log verbosity.
	debugLevel string
)

// rootCmd is the base command for edged.
var rootCmd = &cobra.Command{
	Use:   "edged",
	Short: "edgerpc demo daemon and client",
	Long: `edged runs a demo edgerpc server hosting an echo actor, and
provides a client command that invokes it over the framed RPC
transport.`,
	Version: build.Version(),
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&configPath, "config", "",
		"Path to YAML system config (optional)",
	)
	rootCmd.PersistentFlags().StringVar(
		&logDir, "log-dir", "",
		"Directory for rotated log files (empty to disable)",
	)
	rootCmd.PersistentFlags().StringVar(
		&debugLevel, "debuglevel", "info",
		"Log level: trace, debug, info, warn, error",
	)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(echoCmd)
}

// setupLogging wires the btclog handler fan-out into every subsystem
// and returns a closer for the file rotator, if one was configured.
func setupLogging() (func(), error) {
	var handlers []btclog.Handler
	handlers = append(handlers, btclog.NewDefaultHandler(os.Stderr))

	closer := func() {}
	if logDir != "" {
		rotator := build.NewRotatingLogWriter()
		err := rotator.InitLogRotator(&build.LogRotatorConfig{
			LogDir:         logDir,
			MaxLogFiles:    build.DefaultMaxLogFiles,
			MaxLogFileSize: build.DefaultMaxLogFileSize,
		})
		if err != nil {
			log.Printf("File logging disabled: %v", err)
		} else {
			handlers = append(
				handlers,
				btclog.NewDefaultHandler(
					io.Writer(rotator),
				),
			)
			closer = func() { _ = rotator.Close() }
		}
	}

	handlerSet := build.NewHandlerSet(handlers...)

	level, ok := btclogv1.LevelFromString(debugLevel)
	if ok {
		handlerSet.SetLevel(level)
	}

	logger := btclog.NewSLogger(handlerSet)
	wire.UseLogger(logger.WithPrefix(wire.Subsystem))
	codec.UseLogger(logger.WithPrefix(codec.Subsystem))
	invoke.UseLogger(logger.WithPrefix(invoke.Subsystem))
	calls.UseLogger(logger.WithPrefix(calls.Subsystem))
	transport.UseLogger(logger.WithPrefix(transport.Subsystem))
	system.UseLogger(logger.WithPrefix(system.Subsystem))

	return closer, nil
}

// loadSystemConfig reads the configured YAML file or falls back to the
// defaults.
func loadSystemConfig() (system.Config, error) {
	if configPath == "" {
		return system.DefaultConfig(), nil
	}

	return system.LoadConfig(configPath)
}
