// Command isola-bench is a smoke-test harness for one guest bundle: it
// compiles the bundle, instantiates it, evaluates a script (or calls a
// named function), and reports wall-clock timing — enough to sanity-check
// a guest build locally without embedding the sandbox in a real service.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	isola "github.com/isola-run/isola-go"
	"github.com/isola-run/isola-go/internal/config"
	"github.com/isola-run/isola-go/sandbox"
	"github.com/isola-run/isola-go/sandbox/hosthttp"
	"github.com/isola-run/isola-go/value"
)

type noopHost struct {
	http *hosthttp.Bridge
}

func (h noopHost) Hostcall(ctx context.Context, name string, payload value.Value) (value.Value, error) {
	return value.Nil, fmt.Errorf("isola-bench: no hostcall handler registered for %q", name)
}

func (h noopHost) HTTPRequest(ctx context.Context, req *isola.HTTPRequest) (*isola.HTTPResponse, error) {
	return h.http.HTTPRequest(ctx, req)
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "isola-bench: init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	root := newRootCommand(logger)
	if err := root.Execute(); err != nil {
		logger.Fatal("isola-bench failed", zap.Error(err))
	}
}

func newRootCommand(logger *zap.Logger) *cobra.Command {
	var (
		wasmPath   string
		scriptPath string
		callName   string
		maxMemory  uint64
		cacheDir   string
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "isola-bench",
		Short: "Compile and run one guest bundle inside an isola sandbox",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), logger, runOptions{
				wasmPath:   wasmPath,
				scriptPath: scriptPath,
				callName:   callName,
				maxMemory:  maxMemory,
				cacheDir:   cacheDir,
				timeout:    timeout,
			})
		},
	}

	cmd.Flags().StringVar(&wasmPath, "wasm", "", "path to the compiled guest .wasm bundle (required)")
	cmd.Flags().StringVar(&scriptPath, "script", "", "path to a script file to evaluate with EvalScript")
	cmd.Flags().StringVar(&callName, "call", "", "guest function name to invoke with Call instead of EvalScript")
	cmd.Flags().Uint64Var(&maxMemory, "max-memory", 64<<20, "hard linear-memory cap, in bytes")
	cmd.Flags().StringVar(&cacheDir, "cache-dir", "", "on-disk compile cache directory (disabled if empty)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "per-call wall-clock timeout")
	_ = cmd.MarkFlagRequired("wasm")

	return cmd
}

type runOptions struct {
	wasmPath   string
	scriptPath string
	callName   string
	maxMemory  uint64
	cacheDir   string
	timeout    time.Duration
}

func run(ctx context.Context, logger *zap.Logger, opts runOptions) error {
	wasmBytes, err := os.ReadFile(opts.wasmPath)
	if err != nil {
		return fmt.Errorf("isola-bench: read guest bundle: %w", err)
	}

	moduleConfig, err := config.DecodeModuleConfig(map[string]any{
		"maxMemory": opts.maxMemory,
		"cacheDir":  opts.cacheDir,
	})
	if err != nil {
		return err
	}
	engineConfig, err := config.DecodeEngineConfig(map[string]any{
		"callTimeout": opts.timeout.String(),
	})
	if err != nil {
		return err
	}

	engine, err := sandbox.NewEngine(ctx, engineConfig, opts.cacheDir)
	if err != nil {
		return fmt.Errorf("isola-bench: start engine: %w", err)
	}
	defer engine.Close(ctx) //nolint:errcheck

	start := time.Now()
	tmpl, err := sandbox.Compile(ctx, engine, wasmBytes, moduleConfig)
	if err != nil {
		return fmt.Errorf("isola-bench: compile guest: %w", err)
	}
	logger.Info("compiled guest bundle", zap.Duration("elapsed", time.Since(start)), zap.String("path", opts.wasmPath))
	defer tmpl.Close(ctx) //nolint:errcheck

	host := noopHost{http: hosthttp.New(nil)}
	inst, err := tmpl.Instantiate(ctx, host, isola.WithCallTimeout(opts.timeout))
	if err != nil {
		return fmt.Errorf("isola-bench: instantiate guest: %w", err)
	}
	defer inst.Close(ctx) //nolint:errcheck

	logSink := zapLogSink{logger: logger}

	if opts.callName != "" {
		start = time.Now()
		out, err := inst.Call(ctx, opts.callName, nil, logSink)
		if err != nil {
			return fmt.Errorf("isola-bench: call %q: %w", opts.callName, err)
		}
		logger.Info("call completed", zap.String("name", opts.callName), zap.Duration("elapsed", time.Since(start)), zap.Int("items", len(out.Items)))
		return nil
	}

	if opts.scriptPath == "" {
		return fmt.Errorf("isola-bench: one of --call or --script is required")
	}
	code, err := os.ReadFile(opts.scriptPath)
	if err != nil {
		return fmt.Errorf("isola-bench: read script: %w", err)
	}

	start = time.Now()
	err = inst.EvalScript(ctx, isola.Source{Code: string(code), Name: opts.scriptPath}, logSink)
	if err != nil {
		return fmt.Errorf("isola-bench: eval script: %w", err)
	}
	logger.Info("script evaluated", zap.Duration("elapsed", time.Since(start)))
	return nil
}

type zapLogSink struct {
	logger *zap.Logger
}

func (s zapLogSink) OnLog(ctx context.Context, level isola.LogLevel, logCtx isola.LogContext, message string) error {
	switch level {
	case isola.LogLevelError, isola.LogLevelCritical, isola.LogLevelStderr:
		s.logger.Warn(message, zap.String("stream", level.String()))
	default:
		s.logger.Info(message, zap.String("stream", level.String()))
	}
	return nil
}
