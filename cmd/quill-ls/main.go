// Command quill-ls is the Quill language server host. It selects a
// transport, builds the stderr log sink, and hands the connection to
// the server kernel. Stdout belongs to the protocol (or, for --pipe,
// to the one-line pipe announcement) and is never logged to.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/quill-lang/quill-ls/internal/cli/config"
	"github.com/quill-lang/quill-ls/internal/lsp"
	"github.com/quill-lang/quill-ls/internal/transport"
)

var (
	// Version information - will be set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	var (
		useStdio bool
		usePipe  bool
		logLevel string
	)

	rootCmd := &cobra.Command{
		Use:   "quill-ls",
		Short: "Quill language server",
		Long: `quill-ls speaks the Language Server Protocol over stdio or a named
pipe and provides diagnostics, completion, navigation, rename, and
symbols for Quill source files.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if useStdio && usePipe {
				return fmt.Errorf("--stdio and --pipe are mutually exclusive")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if logLevel == "" {
				logLevel = cfg.Log.Level
			}
			if !config.IsValidLogLevel(logLevel) {
				return fmt.Errorf("invalid --logLevel %q (valid: %v)", logLevel, config.ValidLogLevels)
			}

			logger := buildLogger(logLevel)
			defer logger.Sync()

			var conn transport.Transport
			if usePipe {
				conn = transport.NewPipe(os.Stdout)
			} else {
				conn = transport.NewStdio()
			}

			server := lsp.NewServer(lsp.Options{
				Transport:       conn,
				Logger:          logger,
				Version:         Version,
				InitialSettings: initialSettings(cfg),
			})

			code, err := server.Run(context.Background())
			if err != nil {
				logger.Error("server terminated abnormally", zap.Error(err))
			}
			logger.Sync()
			os.Exit(code)
			return nil
		},
	}

	rootCmd.Flags().BoolVar(&useStdio, "stdio", false, "serve over standard streams (default)")
	rootCmd.Flags().BoolVar(&usePipe, "pipe", false, "serve over a named pipe; the pipe name is announced on stdout")
	rootCmd.Flags().StringVar(&logLevel, "logLevel", "", "log verbosity: trace|debug|info|warn|error|critical|none")

	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initialSettings lowers the host config onto the protocol-level
// settings shape the kernel understands.
func initialSettings(cfg *config.Config) lsp.Settings {
	enable := cfg.Diagnostics.Enable
	debounce := cfg.Diagnostics.DebounceMs
	return lsp.Settings{
		Diagnostics: lsp.DiagnosticsSettings{
			Enable:          &enable,
			DebounceMs:      &debounce,
			MinimumSeverity: cfg.Diagnostics.MinimumSeverity,
		},
	}
}

// buildLogger creates the stderr sink. The protocol stream is never
// written to by the logger, whatever the level.
func buildLogger(level string) *zap.Logger {
	if level == "none" {
		return zap.NewNop()
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.Lock(os.Stderr),
		zapLevel(level),
	)
	return zap.New(core)
}

func zapLevel(level string) zapcore.Level {
	switch level {
	case "trace", "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "critical":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}
