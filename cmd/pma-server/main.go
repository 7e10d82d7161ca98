// Command pma-server runs the project-management agent workflow behind an
// HTTP/websocket surface.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/philippgille/chromem-go"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/phancao/Project-Management-Agent-sub011/internal/agent/domain"
	"github.com/phancao/Project-Management-Agent-sub011/internal/agent/ports"
	"github.com/phancao/Project-Management-Agent-sub011/internal/config"
	"github.com/phancao/Project-Management-Agent-sub011/internal/llm"
	"github.com/phancao/Project-Management-Agent-sub011/internal/logging"
	"github.com/phancao/Project-Management-Agent-sub011/internal/observability"
	"github.com/phancao/Project-Management-Agent-sub011/internal/server"
	"github.com/phancao/Project-Management-Agent-sub011/internal/stream"
	"github.com/phancao/Project-Management-Agent-sub011/internal/tools"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "pma-server",
		Short: "Project-management agent workflow server",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (yaml)")

	root.AddCommand(serveCmd(), configCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the workflow server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			redacted := *cfg
			if redacted.LLM.APIKey != "" {
				redacted.LLM.APIKey = "(set)"
			}
			out, err := yaml.Marshal(redacted)
			if err != nil {
				return err
			}
			cmd.Print(string(out))
			return nil
		},
	}
}

func printBanner(cfg *config.Config) {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return
	}
	color.New(color.FgCyan, color.Bold).Println("pma-server")
	color.New(color.FgHiBlack).Printf("model %s | listening %s:%d | log %s\n",
		cfg.LLM.Model, cfg.Server.Host, cfg.Server.Port, cfg.LogLevel)
}

func serve(cfg *config.Config) error {
	logging.SetDefaultLevel(logging.ParseLevel(cfg.LogLevel))
	logger := logging.NewComponentLogger("main")
	printBanner(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracerProvider, shutdownTracing, err := observability.SetupTracing(ctx, cfg.Tracing, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	llmClient := llm.NewOpenAIClient(cfg.LLM, logging.NewComponentLogger("llm"))
	registry := buildToolRegistry(cfg, logger)

	workflow := buildWorkflow(cfg, llmClient, registry, tracerProvider.Tracer("workflow"))
	threads := stream.NewRegistry(cfg.Stream.QueueBuffer, stream.DefaultMetrics(), logging.NewComponentLogger("stream"))
	srv := server.New(cfg.Server, threads, workflow, logging.NewComponentLogger("server"))

	logger.Info("starting with model %s, plan ceiling %d, step cap %d",
		cfg.LLM.Model, cfg.Workflow.MaxPlanIterations, cfg.Workflow.MaxStepIterations)
	return srv.ListenAndServe(ctx)
}

func buildToolRegistry(cfg *config.Config, logger logging.Logger) *tools.Registry {
	store := tools.NewStore()
	registry := tools.NewRegistry()
	registry.Register(tools.NewListTasksTool(store))
	registry.Register(tools.NewListSprintsTool(store))
	registry.Register(tools.NewProjectMetricsTool(store))

	if cfg.LLM.APIKey != "" {
		embed := chromem.NewEmbeddingFuncOpenAI(cfg.LLM.APIKey, chromem.EmbeddingModelOpenAI3Small)
		docSearch, err := tools.NewDocSearch(embed, logging.NewComponentLogger("docsearch"))
		if err != nil {
			logger.Warn("doc search unavailable: %v", err)
		} else {
			registry.Register(docSearch)
		}
	} else {
		logger.Warn("no api key configured, research tools disabled")
	}
	return registry
}

func buildWorkflow(cfg *config.Config, llmClient ports.LLMClient, registry *tools.Registry, tracer trace.Tracer) *domain.Workflow {
	clock := ports.SystemClock{}
	metrics := domain.DefaultMetrics()

	classifier := domain.NewIntentClassifier(domain.IntentClassifierConfig{
		Keywords:  cfg.Classifier.Keywords,
		MinLength: cfg.Classifier.MinLength,
		CacheSize: cfg.Classifier.CacheSize,
		Timeout:   cfg.Classifier.Timeout,
		LLM:       llmClient,
		Logger:    logging.NewComponentLogger("classifier"),
		Clock:     clock,
	})
	planner := domain.NewPlanner(llmClient, logging.NewComponentLogger("planner"), clock)
	executor := domain.NewStepExecutor(domain.StepExecutorConfig{
		LLM:           llmClient,
		Tools:         registry,
		MaxIterations: cfg.Workflow.MaxStepIterations,
		ToolTimeout:   cfg.Workflow.ToolTimeout,
		Logger:        logging.NewComponentLogger("executor"),
		Clock:         clock,
	})
	validator := domain.NewValidator(llmClient, cfg.Workflow.MaxPlanIterations, logging.NewComponentLogger("validator"), clock)
	reporter := domain.NewReporter(llmClient, logging.NewComponentLogger("reporter"), clock)

	return domain.NewWorkflow(domain.WorkflowConfig{
		Classifier: classifier,
		Planner:    planner,
		Executor:   executor,
		Validator:  validator,
		Reporter:   reporter,
		LLM:        llmClient,
		Tools:      registry,
		Metrics:    metrics,
		Tracer:     tracer,
		Logger:     logging.NewComponentLogger("workflow"),
		Clock:      clock,
	})
}
