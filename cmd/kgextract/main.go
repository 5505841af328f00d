// Package main provides the CLI entry point for kgextract.
//
// kgextract walks a data directory, chunks its files, and runs an LLM
// agent over each chunk to extract a knowledge graph, checkpointing
// progress so an interrupted run can resume without redoing completed
// work.
//
// Usage:
//
//	kgextract run --data-dir PATH [--config PATH]   Run extraction to completion
//	kgextract version                               Show version information
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kgraph/extractor/internal/config"
	"github.com/kgraph/extractor/internal/logger"
	"github.com/kgraph/extractor/internal/statusapi"
	"github.com/kgraph/extractor/pkg/agentsession"
	"github.com/kgraph/extractor/pkg/capture"
	"github.com/kgraph/extractor/pkg/checkpoint"
	"github.com/kgraph/extractor/pkg/dedup"
	"github.com/kgraph/extractor/pkg/discovery"
	"github.com/kgraph/extractor/pkg/emit"
	"github.com/kgraph/extractor/pkg/model"
	"github.com/kgraph/extractor/pkg/orchestrator"
	"github.com/kgraph/extractor/pkg/planner"
	"github.com/kgraph/extractor/pkg/ratelimit"
	"github.com/kgraph/extractor/pkg/validate"
	"github.com/kgraph/extractor/pkg/worker"
)

// version is set via -ldflags at build time.
var version = "dev"

var configPath string

func main() {
	statusapi.SetVersion(version)

	args := os.Args[1:]
	command := ""
	cmdArgs := []string{}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case strings.HasPrefix(arg, "--config="):
			configPath = strings.TrimPrefix(arg, "--config=")
		case arg == "--config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(arg, "-"):
			cmdArgs = append(cmdArgs, arg)
		case command == "":
			command = arg
		default:
			cmdArgs = append(cmdArgs, arg)
		}
	}

	if command == "" {
		command = "run"
	}

	var err error
	switch command {
	case "run":
		err = cmdRun(cmdArgs)
	case "mcp-server":
		err = cmdMCPServer(cmdArgs)
	case "version", "-v", "--version":
		fmt.Printf("kgextract version %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`kgextract - knowledge graph extraction pipeline

Usage:
  kgextract [--config PATH] run --data-dir PATH [flags]
  kgextract mcp-server --data-dir PATH
  kgextract version
  kgextract help

Flags (run):
  --data-dir PATH     Directory to scan for source files (required)
  --output PATH       Output JSON-LD file (default from config)
  --resume            Resume from the latest checkpoint if its config matches
  --status-addr ADDR  Serve live progress at http://ADDR/status (optional)

Flags (mcp-server):
  --data-dir PATH     Directory the read/search/glob file tools may read from

Environment:
  GEMINI_API_KEY      API key for the extraction LLM
  KGEXTRACT_CONFIG    Path to configuration file (alternative to --config)`)
}

func getConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return os.Getenv("KGEXTRACT_CONFIG")
}

func cmdRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	dataDir := fs.String("data-dir", "", "directory to scan for source files")
	output := fs.String("output", "", "output JSON-LD file")
	resume := fs.Bool("resume", false, "resume from the latest checkpoint")
	statusAddr := fs.String("status-addr", "", "address to serve live progress on, e.g. :8420")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return err
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *output != "" {
		cfg.OutputFile = *output
	}
	if *resume {
		cfg.Resume = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logger.SetupLogger(cfg)
	defer logger.Stop()

	runID := uuid.NewString()
	log.Info().Str("run_id", runID).Str("data_dir", cfg.DataDir).Msg("starting extraction run")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Warn().Msg("shutdown signal received, draining in-flight work")
		cancel()
	}()

	enumerator, err := discovery.New(cfg.DataDir)
	if err != nil {
		return err
	}
	files, err := enumerator.Enumerate()
	if err != nil {
		return err
	}

	chunker := planner.New(planner.Options{
		Strategy:                   planner.Strategy(cfg.Chunking.Strategy),
		TargetSizeBytes:            int64(cfg.Chunking.TargetSizeMB * 1024 * 1024),
		MaxFilesPerChunk:           cfg.Chunking.MaxFilesPerChunk,
		RespectDirectoryBoundaries: cfg.Chunking.RespectDirectoryBoundaries,
	})
	chunks, err := chunker.CreateChunks(files)
	if err != nil {
		return err
	}
	log.Info().Str("chunk_count", fmt.Sprintf("%d", len(chunks))).Msg("chunking complete")

	configHash, err := cfg.Hash()
	if err != nil {
		return err
	}

	store, err := checkpoint.NewDiskStore(cfg.Checkpoint.Dir)
	if err != nil {
		return err
	}

	rl := ratelimit.New()
	apiKey := os.Getenv("GEMINI_API_KEY")

	factory := func() *worker.Worker {
		cap := capture.New()
		session, sessErr := agentsession.NewGenAISession(ctx, agentsession.GenAIConfig{
			APIKey:  apiKey,
			Model:   cfg.LLM.Model,
			Timeout: time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
			Root:    cfg.DataDir,
		}, cap)
		if sessErr != nil {
			log.Error().Err(sessErr).Msg("failed to construct agent session")
			return worker.New(worker.DefaultOptions(), cap, erroringSession{sessErr}, rl, log)
		}
		return worker.New(worker.Options{
			ToolName:        agentsession.ToolName,
			MaxRetries:      cfg.LLM.MaxRetries,
			ResultTimeout:   time.Duration(cfg.LLM.ResultTimeoutSeconds) * time.Second,
			StrictURNFormat: cfg.Validation.StrictURNFormat,
			MaxPromptTokens: cfg.LLM.MaxPromptTokens,
		}, cap, session, rl, log)
	}

	finalize := func(entities []*model.Entity) ([]*model.Entity, []model.ValidationIssue, error) {
		res, err := dedup.Dedupe(entities, dedup.Options{
			Strategy: dedup.Strategy(cfg.Deduplication.UrnMergeStrategy),
			Hybrid:   cfg.Deduplication.Strategy == "agent" || cfg.Deduplication.Strategy == "hybrid",
		})
		if err != nil {
			return nil, nil, err
		}
		issues := validate.Validate(res.Entities, validate.Options{
			RequiredFields:   cfg.Validation.RequiredFields,
			AllowMissingName: cfg.Validation.AllowMissingName,
			StrictURNFormat:  cfg.Validation.StrictURNFormat,
			DetectOrphans:    cfg.Validation.DetectOrphans,
			DetectBrokenRefs: cfg.Validation.DetectBrokenRefs,
		})
		return res.Entities, issues, nil
	}

	orchCfg := orchestrator.Config{
		Workers:             cfg.Workers,
		Resume:              cfg.Resume,
		ConfigHash:          configHash,
		CheckpointEnabled:   cfg.Checkpoint.Enabled,
		CheckpointID:        "latest",
		CommitPolicy:        orchestrator.CommitPolicy(cfg.Checkpoint.Strategy),
		CommitEveryNChunks:  cfg.Checkpoint.EveryNChunks,
		CommitInterval:      time.Duration(cfg.Checkpoint.TimeIntervalMinutes) * time.Minute,
		RecordFailedAsDone:  cfg.Checkpoint.RecordFailedAsDone,
		FailOnValidationErr: cfg.FailOnValidationErrors,
	}

	var statusSrv *statusapi.Server
	var onProgress orchestrator.ProgressCallback
	if *statusAddr != "" {
		statusSrv = statusapi.New(runID)
		onProgress = statusSrv.Update
		httpSrv := &http.Server{Addr: *statusAddr, Handler: statusSrv.Handler()}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn().Err(err).Msg("status server stopped")
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			httpSrv.Shutdown(shutdownCtx)
		}()
		log.Info().Str("status_addr", *statusAddr).Msg("serving live progress")
	}

	orch := orchestrator.New(orchCfg, store, factory, finalize, log, onProgress)
	result, err := orch.Run(ctx, chunks, runID)
	if result == nil {
		return err
	}

	if writeErr := emit.Write(cfg.OutputFile, result.Entities, emit.DefaultContext); writeErr != nil {
		return writeErr
	}

	log.Info().
		Str("entities", fmt.Sprintf("%d", len(result.Entities))).
		Str("processed_chunks", fmt.Sprintf("%d", result.Metrics.ProcessedChunks)).
		Str("failed_chunks", fmt.Sprintf("%d", result.Metrics.FailedChunks)).
		Str("validation_issues", fmt.Sprintf("%d", len(result.Issues))).
		Str("output", cfg.OutputFile).
		Msg("extraction run finished")

	return err
}

// cmdMCPServer starts kgextract's submit_extraction_results tool, plus
// its read/search/glob file tools sandboxed to --data-dir, over stdio
// for an external MCP-speaking agent host to drive extraction turns
// against directly instead of the built-in genai backend.
func cmdMCPServer(args []string) error {
	fs := flag.NewFlagSet("mcp-server", flag.ContinueOnError)
	dataDir := fs.String("data-dir", "", "directory the file tools may read from")
	if err := fs.Parse(args); err != nil {
		return err
	}
	root := *dataDir
	if root == "" {
		root = "."
	}

	cap := capture.New()
	srv := agentsession.NewToolServer(cap, root)
	return server.ServeStdio(srv)
}

// erroringSession is used when the agent backend could not be
// constructed (e.g. no API key): every call returns that construction
// error, which the worker treats as transient, so each chunk fails once
// its MaxRetries retries are spent instead of the pool waiting forever.
type erroringSession struct{ err error }

func (e erroringSession) Run(ctx context.Context, prompt string) (string, error) {
	return "", e.err
}
