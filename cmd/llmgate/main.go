// Package main provides the llmgate binary entry point.
// Llmgate is an HTTP gateway in front of a text-completion backend that
// serves chat, analysis, rephrasing and feedback classification.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/c360studio/llmgate/config"
	"github.com/c360studio/llmgate/llm"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "llmgate"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	backendURL string
	addr       string
}

func rootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Gateway for a text-completion backend",
		Long: `Llmgate is an HTTP gateway in front of a text-completion backend.

It provides:
- Chat replies over a running conversation
- Analysis and follow-up questions for interview notes
- Two-pass rephrasing of free text
- Feedback classification into structured categories

Run without a subcommand to start the HTTP server.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), flags)
		},
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&flags.backendURL, "backend-url", "", "Completion backend base URL (overrides config and "+config.EnvBackendURL+")")
	cmd.PersistentFlags().StringVar(&flags.addr, "addr", "", "HTTP listen address (overrides config and "+config.EnvAddr+")")

	cmd.AddCommand(
		serveCmd(flags),
		rephraseCmd(flags),
		completeCmd(flags),
		initCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
			},
		},
	)

	return cmd
}

func serveCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), flags)
		},
	}
}

func rephraseCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "rephrase [text]",
		Short: "Rephrase text through the two-pass pipeline",
		Long:  "Rephrase the given text, or standard input when no text is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := inputText(cmd, args)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), flags, func(ctx context.Context, app *App) error {
				out, err := app.rephraser.Rephrase(ctx, text)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}
}

func completeCmd(flags *globalFlags) *cobra.Command {
	var (
		maxTokens   int
		temperature float64
		stop        []string
	)

	cmd := &cobra.Command{
		Use:   "complete [prompt]",
		Short: "Send one raw completion request",
		Long:  "Send the given prompt, or standard input when no prompt is given, to the backend.",
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := inputText(cmd, args)
			if err != nil {
				return err
			}
			params := llm.Params{MaxTokens: maxTokens, Stop: stop, Temperature: temperature}
			return withApp(cmd.Context(), flags, func(ctx context.Context, app *App) error {
				resp, err := app.client.Complete(ctx, params.Request(prompt))
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), resp.Text)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&maxTokens, "max-tokens", 256, "Maximum tokens to generate")
	cmd.Flags().Float64Var(&temperature, "temperature", 0.7, "Sampling temperature")
	cmd.Flags().StringSliceVar(&stop, "stop", nil, "Stop sequence (repeatable)")

	return cmd
}

func initCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a default config file",
		Long:  "Write the default configuration to path (default " + config.ProjectConfigFile + ").",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.ProjectConfigFile
			if len(args) > 0 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.DefaultConfig().SaveToFile(path); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

func runServe(ctx context.Context, flags *globalFlags) error {
	printBanner()

	return withApp(ctx, flags, func(ctx context.Context, app *App) error {
		// Setup signal handling
		signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer signalCancel()

		if err := app.Serve(signalCtx); err != nil {
			return err
		}
		slog.Info("Llmgate shutdown complete")
		return nil
	})
}

func printBanner() {
	fmt.Println("╔═══════════════════════════════════════════════╗")
	fmt.Println("║             Llmgate v" + Version + "                    ║")
	fmt.Println("║      Completion Gateway                       ║")
	fmt.Println("╚═══════════════════════════════════════════════╝")
}

// withApp loads configuration, starts the application, runs fn and shuts
// the application down again.
func withApp(ctx context.Context, flags *globalFlags, fn func(context.Context, *App) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	logger := newLogger(flags.logLevel)
	slog.SetDefault(logger)

	cfg, err := loadConfig(flags, logger)
	if err != nil {
		return err
	}

	app := NewApp(cfg, logger)
	defer app.Shutdown(cfg.Server.ShutdownTimeout)

	if err := app.Start(ctx); err != nil {
		return err
	}
	return fn(ctx, app)
}

func newLogger(logLevel string) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func loadConfig(flags *globalFlags, logger *slog.Logger) (*config.Config, error) {
	cfg, err := config.NewLoader(logger).Load(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	// Flags win over file and environment.
	cfg.Merge(&config.Config{
		Backend: config.BackendConfig{URL: flags.backendURL},
		Server:  config.ServerConfig{Addr: flags.addr},
	})
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func inputText(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", fmt.Errorf("no input text")
	}
	return text, nil
}
