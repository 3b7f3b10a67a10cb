package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/efebarandurmaz/stackflow/internal/app"
	"github.com/efebarandurmaz/stackflow/internal/config"
	"github.com/efebarandurmaz/stackflow/internal/llm"
	"github.com/efebarandurmaz/stackflow/internal/observability"
	"github.com/efebarandurmaz/stackflow/internal/server"
	"github.com/efebarandurmaz/stackflow/internal/workflow"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "stackflow",
		Short:         "Visual RAG stack builder: workflow graphs, prompt synthesis and execution",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (defaults plus STACKFLOW_* env when empty)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath)
		},
	}

	var validateJSON bool
	validateCmd := &cobra.Command{
		Use:   "validate FILE",
		Short: "Check a workflow document and report its issues",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return validate(args[0], validateJSON)
		},
	}
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "Output issues as JSON")

	var synthOutput, synthFormat string
	synthesizeCmd := &cobra.Command{
		Use:   "synthesize FILE",
		Short: "Normalise a workflow document and re-derive its effective prompts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return synthesize(args[0], synthOutput, synthFormat)
		},
	}
	synthesizeCmd.Flags().StringVar(&synthOutput, "output", "", "Write the result here instead of stdout")
	synthesizeCmd.Flags().StringVar(&synthFormat, "format", "json", "Output format: json or yaml")

	var (
		query   string
		runJSON bool
	)
	runCmd := &cobra.Command{
		Use:   "run FILE",
		Short: "Execute a workflow document once, in-process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(configPath, args[0], query, runJSON)
		},
	}
	runCmd.Flags().StringVar(&query, "query", "", "Query text (defaults to the query stored on the intake node)")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Output the response and per-node runs as JSON")

	modelsCmd := &cobra.Command{
		Use:   "models",
		Short: "List selectable models and LLM providers",
		Run: func(cmd *cobra.Command, args []string) {
			printModels()
		},
	}

	rootCmd.AddCommand(serveCmd, validateCmd, synthesizeCmd, runCmd, modelsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	logger, err := observability.NewLogger(os.Stderr, observability.LogConfig{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func serve(configPath string) error {
	cfg, logger, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ctx := context.Background()
	c, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           c.Handler(),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	shutdown := server.NewShutdownHandler(&server.ShutdownConfig{
		Timeout: cfg.Server.ShutdownTimeout,
		Signals: server.DefaultShutdownConfig().Signals,
		Logger:  logger,
	})
	shutdown.RegisterHook("http-server", server.PriorityHTTP, func(ctx context.Context) error {
		c.Health.SetReady(false)
		return srv.Shutdown(ctx)
	})
	c.RegisterShutdown(shutdown)
	shutdown.Start()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.Server.Addr, "storage", cfg.Storage.Driver, "temporal", cfg.Temporal.Enabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	c.Health.SetReady(true)

	select {
	case err := <-errCh:
		shutdown.Shutdown()
		shutdown.Wait()
		return fmt.Errorf("http server: %w", err)
	case <-shutdown.Done():
		logger.Info("stackflow stopped")
		return nil
	}
}

// readWorkflow accepts either a bare workflow document or a stack export
// carrying it under workflow_data. .yaml and .yml files are read as YAML.
func readWorkflow(path string) (workflow.WireDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return workflow.WireDocument{}, fmt.Errorf("reading workflow: %w", err)
	}
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".yaml" || ext == ".yml" {
		if data, err = yamlToJSON(data); err != nil {
			return workflow.WireDocument{}, fmt.Errorf("parsing workflow: %w", err)
		}
	}

	var export struct {
		Workflow *workflow.WireDocument `json:"workflow_data"`
	}
	if err := json.Unmarshal(data, &export); err != nil {
		return workflow.WireDocument{}, fmt.Errorf("parsing workflow: %w", err)
	}
	if export.Workflow != nil {
		return *export.Workflow, nil
	}
	var w workflow.WireDocument
	if err := json.Unmarshal(data, &w); err != nil {
		return workflow.WireDocument{}, fmt.Errorf("parsing workflow: %w", err)
	}
	return w, nil
}

// The wire types carry json tags only, so YAML goes through a generic value.
func yamlToJSON(data []byte) ([]byte, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func jsonToYAML(data []byte) ([]byte, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return yaml.Marshal(v)
}

func validate(path string, jsonOutput bool) error {
	w, err := readWorkflow(path)
	if err != nil {
		return err
	}
	doc, issues := workflow.FromWire(w)
	issues = append(issues, doc.Validate()...)

	if jsonOutput {
		type issue struct {
			Code    string `json:"code"`
			NodeID  string `json:"node_id,omitempty"`
			EdgeID  string `json:"edge_id,omitempty"`
			Message string `json:"message"`
		}
		out := make([]issue, 0, len(issues))
		for _, is := range issues {
			out = append(out, issue{Code: is.Code(), NodeID: is.NodeID, EdgeID: is.EdgeID, Message: is.Message})
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return err
		}
	} else {
		fmt.Printf("%d nodes, %d edges\n", len(doc.Nodes()), len(doc.Edges()))
		if len(issues) == 0 {
			fmt.Println("No issues found.")
		}
		for _, is := range issues {
			fmt.Printf("  - %s\n", is)
		}
	}

	if doc.HasCycle() {
		return workflow.ErrCyclicGraph
	}
	return nil
}

func synthesize(path, output, format string) error {
	w, err := readWorkflow(path)
	if err != nil {
		return err
	}
	doc, issues := workflow.FromWire(w)
	for _, is := range issues {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", is)
	}

	data, err := json.MarshalIndent(workflow.ToWire(doc), "", "  ")
	if err != nil {
		return err
	}
	switch format {
	case "json":
		data = append(data, '\n')
	case "yaml":
		if data, err = jsonToYAML(data); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown format %q (want json or yaml)", format)
	}

	if output == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(output, data, 0o644)
}

func runOnce(configPath, path, query string, jsonOutput bool) error {
	cfg, logger, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	w, err := readWorkflow(path)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	rt, err := app.NewRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close(context.WithoutCancel(ctx))

	doc, issues := workflow.FromWire(w)
	for _, is := range issues {
		logger.Warn("workflow issue", "issue", is.String())
	}
	res, err := rt.Engine.Run(ctx, "cli", doc, query)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Println(res.Output)
	return nil
}

func printModels() {
	fmt.Println("Inference models:")
	for _, m := range workflow.InferenceModels {
		fmt.Printf("  %-32s %s\n", m.ID, m.UseCase)
	}
	fmt.Println()
	fmt.Println("Embedding models:")
	for _, m := range workflow.EmbeddingModels {
		fmt.Printf("  %-32s %s\n", m.ID, m.UseCase)
	}
	fmt.Println()

	fmt.Println("LLM providers:")
	names := make([]string, 0, len(llm.KnownProviders))
	for name := range llm.KnownProviders {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-14s %s\n", name, llm.KnownProviders[name])
	}
	fmt.Println("  custom         (set base_url to any OpenAI-compatible endpoint)")
	fmt.Println()
	fmt.Println("Configure in a config file or via environment:")
	fmt.Println("  STACKFLOW_LLM_PROVIDER=gemini")
	fmt.Println("  STACKFLOW_LLM_API_KEY=...")
	fmt.Println("  STACKFLOW_LLM_MODEL=gemini-2.5-flash")
}
