// Package main is the Kakunin CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/kakunin/internal/app"
	"github.com/hyperjump/kakunin/internal/cli"
	"github.com/hyperjump/kakunin/internal/config"
	"github.com/hyperjump/kakunin/internal/fileid"
	"github.com/hyperjump/kakunin/internal/models"
	"github.com/hyperjump/kakunin/internal/server"
	"github.com/hyperjump/kakunin/pkg/utils"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kakunin/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used.
// When neither exists, defaults plus environment overrides are used.
// Returns the config and the path that was actually loaded ("" for defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			cfg := config.Default()
			if err := cfg.Validate(); err != nil {
				return nil, "", err
			}
			return cfg, "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "ask":
		runAsk()
	case "index":
		runIndex()
	case "delete":
		runDelete()
	case "review":
		runReview()
	case "prompts":
		runPrompts()
	case "status":
		runStatus()
	case "expire":
		runExpire()
	case "version", "--version", "-v":
		fmt.Printf("kakunin version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// openApp loads config and builds the services for direct (serverless) commands.
func openApp(configPath string, debug bool) (*app.App, *zap.Logger) {
	cfg, resolvedConfigPath, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || debug
	logger, err := utils.NewCommandLogger(debugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug("config loaded", zap.String("config_path", resolvedConfigPath))

	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	return a, logger
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (corpus changes, escalations, etc.)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("generation", cfg.Generation.Provider),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer a.Close()
	if err := a.Start(ctx); err != nil {
		logger.Fatal("Failed to start components", zap.Error(err))
	}

	srv := server.NewServer(a.ServerDeps(), cfg, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := srv.Stop(stopCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
}

// printAskUsage prints ask subcommand usage.
func printAskUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: kakunin ask [flags] <question>\n\n")
	fmt.Fprintf(fs.Output(), "The question is all remaining arguments joined by spaces. Quotes are optional.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Answers below the confidence threshold open a review case; the case id is printed.
  • Use --document to restrict retrieval to one policy.
  • Use --server "" to run the pipeline in-process when no server is running.

Examples:
  kakunin ask is flood damage covered
  kakunin ask --document home-policy "what is the deductible?"
  kakunin ask --output json what does clause 4.2 exclude
`)
}

// buildQuery joins all positional args with spaces so multi-word questions
// work the same with or without shell quoting.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// argsReorder moves any flags (and their values) that appear after the question
// to the front of the slice so that flag.Parse() sees them. Go's flag package
// stops at the first non-flag argument, so "kakunin ask \"question\" --output json"
// would otherwise leave --output unparsed.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func parseFormat(s string) cli.OutputFormat {
	format, err := cli.ParseOutputFormat(s)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return format
}

func runAsk() {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", cli.DefaultServerURL, "server URL (empty = run the pipeline in-process)")
	documentID := fs.String("document", "", "restrict retrieval to one document id")
	timeout := fs.Duration("timeout", 90*time.Second, "request timeout")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() { printAskUsage(fs) }
	_ = fs.Parse(argsReorder(os.Args[2:]))

	question := buildQuery(fs.Args())
	if question == "" {
		printAskUsage(fs)
		os.Exit(1)
	}
	format := parseFormat(*outputFormat)
	req := models.AnalyzeRequest{Query: question, DocumentID: *documentID}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var resp *models.AnalyzeResponse
	if *serverURL != "" {
		var err error
		resp, err = cli.NewClient(*serverURL, *timeout).Analyze(ctx, req)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Ask failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		a, logger := openApp(*configPath, false)
		defer logger.Sync()
		defer a.Close()
		if err := a.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
			os.Exit(1)
		}
		var err error
		resp, err = a.Analyzer.Analyze(ctx, req)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Ask failed: %v\n", err)
			os.Exit(1)
		}
	}
	if err := cli.WriteAnswer(os.Stdout, resp, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runIndex() {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: kakunin index [flags] <file-or-directory>")
		os.Exit(1)
	}
	path := fs.Arg(0)

	a, logger := openApp(*configPath, false)
	defer logger.Sync()
	defer a.Close()

	ctx := context.Background()
	info, err := os.Stat(path)
	if err != nil {
		fmt.Printf("Failed to stat path: %v\n", err)
		os.Exit(1)
	}
	if info.IsDir() {
		n, err := a.Indexer.IndexDirectory(ctx, path, a.Config.Corpus.Extensions)
		if err != nil {
			fmt.Printf("Indexing directory failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Indexed %d policy file(s) from %s\n", n, path)
		return
	}
	// Single file: no extension filter
	if err := a.Indexer.IndexFile(ctx, path, nil); err != nil {
		fmt.Printf("Indexing failed: %v\n", err)
		os.Exit(1)
	}
	absPath, _ := filepath.Abs(path)
	fmt.Printf("Document indexed successfully: %s\n", fileid.FileDocID(absPath))
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: kakunin delete [flags] <document-id>")
		os.Exit(1)
	}
	docID := fs.Arg(0)

	a, logger := openApp(*configPath, false)
	defer logger.Sync()
	defer a.Close()

	if err := a.Indexer.DeleteDocument(context.Background(), docID); err != nil {
		fmt.Printf("Deletion failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Document deleted: %s\n", docID)
}

func printReviewUsage() {
	fmt.Println("Usage: kakunin review <get|claim|decide> [flags] <case-id>")
	fmt.Println("  kakunin review get <case-id>                                   Show a case and its history")
	fmt.Println("  kakunin review claim --reviewer alice <case-id>                Claim a pending case")
	fmt.Println("  kakunin review decide --reviewer alice --decision approve <id> Approve or reject a claimed case")
}

func runReview() {
	if len(os.Args) < 3 {
		printReviewUsage()
		os.Exit(1)
	}
	sub := os.Args[2]
	fs := flag.NewFlagSet("review "+sub, flag.ExitOnError)
	serverURL := fs.String("server", cli.DefaultServerURL, "server URL")
	reviewer := fs.String("reviewer", os.Getenv("KAKUNIN_REVIEWER"), "reviewer id (default $KAKUNIN_REVIEWER)")
	decision := fs.String("decision", "", "approve or reject (decide only)")
	comment := fs.String("comment", "", "feedback for the prompt owner (decide only)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(os.Args[3:]))

	if fs.NArg() < 1 {
		printReviewUsage()
		os.Exit(1)
	}
	caseID := fs.Arg(0)
	format := parseFormat(*outputFormat)
	client := cli.NewClient(*serverURL, 30*time.Second)
	ctx := context.Background()

	var (
		c   *models.ReviewCase
		err error
	)
	switch sub {
	case "get":
		c, err = client.GetCase(ctx, caseID)
	case "claim":
		c, err = client.Claim(ctx, caseID, *reviewer)
	case "decide":
		c, err = client.Decide(ctx, caseID, models.DecisionRequest{
			ReviewerID: *reviewer,
			Decision:   *decision,
			Comment:    *comment,
		})
	default:
		fmt.Printf("Unknown review subcommand: %s\n", sub)
		printReviewUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Review %s failed: %v\n", sub, err)
		os.Exit(1)
	}
	if err := cli.WriteCase(os.Stdout, c, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runPrompts() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: kakunin prompts <list|promote> [flags]")
		fmt.Println("  kakunin prompts list                          List templates and versions")
		fmt.Println("  kakunin prompts promote <template> <version>  Regression-test and activate a version")
		os.Exit(1)
	}
	sub := os.Args[2]
	fs := flag.NewFlagSet("prompts "+sub, flag.ExitOnError)
	serverURL := fs.String("server", cli.DefaultServerURL, "server URL")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(os.Args[3:]))

	format := parseFormat(*outputFormat)
	// Promotion replays the regression suite through the generator.
	client := cli.NewClient(*serverURL, 5*time.Minute)
	ctx := context.Background()

	switch sub {
	case "list":
		templates, err := client.Prompts(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "List failed: %v\n", err)
			os.Exit(1)
		}
		if err := cli.WritePrompts(os.Stdout, templates, format); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "promote":
		if fs.NArg() < 2 {
			fmt.Println("Usage: kakunin prompts promote <template> <version>")
			os.Exit(1)
		}
		var v int
		if _, err := fmt.Sscanf(strings.TrimPrefix(fs.Arg(1), "v"), "%d", &v); err != nil {
			fmt.Printf("Invalid version %q\n", fs.Arg(1))
			os.Exit(1)
		}
		active, err := client.Promote(ctx, fs.Arg(0), v)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Promote failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Active: %s\n", active.Ref())
	default:
		fmt.Printf("Unknown prompts subcommand: %s\n", sub)
		os.Exit(1)
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", cli.DefaultServerURL, "server URL (empty = read storage directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format := parseFormat(*outputFormat)
	ctx := context.Background()

	var report *models.StatusReport
	if *serverURL != "" {
		var err error
		report, err = cli.NewClient(*serverURL, 30*time.Second).Status(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		a, logger := openApp(*configPath, false)
		defer logger.Sync()
		defer a.Close()
		if _, err := a.Library.Rebuild(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load corpus: %v\n", err)
			os.Exit(1)
		}
		var err error
		report, err = server.NewServer(a.ServerDeps(), a.Config, logger).Status(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
	}
	if err := cli.WriteStatus(os.Stdout, report, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runExpire() {
	fs := flag.NewFlagSet("expire", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	a, logger := openApp(*configPath, false)
	defer logger.Sync()
	defer a.Close()

	n, err := a.Reviews.ExpireStale(context.Background(), time.Now().UTC())
	if err != nil {
		fmt.Printf("Expiry failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Expired %d review case(s) older than %s\n", n, a.Config.Review.Timeout)
}

func printUsage() {
	fmt.Println(`kakunin - Confidence-gated policy question answering with human review

Usage:
  kakunin server [flags]                     Start the HTTP server
  kakunin ask [flags] <question>             Ask a question about the policy corpus
  kakunin index [flags] <file-or-dir>        Index policy documents
  kakunin delete [flags] <id>                Delete a document
  kakunin review <get|claim|decide> <id>     Work a review case
  kakunin prompts <list|promote>             Manage prompt versions
  kakunin status [flags]                     Show corpus, review and prompt status
  kakunin expire [flags]                     Expire stale review cases now
  kakunin version                            Show version
  kakunin help                               Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/kakunin/config.yaml)
  --debug            Enable debug logging

Ask Flags:
  --config string    Config file path (for in-process mode)
  --server string    Server URL (default: http://localhost:8080). Use --server "" to run in-process.
  --document string  Restrict retrieval to one document id
  --timeout duration Request timeout (default: 90s)
  --output string    Output format: text or json (default: text)

Review Flags:
  --server string    Server URL (default: http://localhost:8080)
  --reviewer string  Reviewer id (default: $KAKUNIN_REVIEWER)
  --decision string  approve or reject (decide)
  --comment string   Feedback for the prompt owner (decide)
  --output string    Output format: text or json

Status Flags:
  --config string    Config file path (for direct storage mode)
  --server string    Server URL (default: http://localhost:8080). Use --server "" for direct storage.
  --output string    Output format: text or json (default: text)

Examples:
  kakunin server
  kakunin ask is flood damage covered under the home policy
  kakunin ask --output json "what is the deductible?"
  kakunin review claim --reviewer alice case-1f2e
  kakunin review decide --reviewer alice --decision reject --comment "cites wrong clause" case-1f2e
  kakunin prompts promote policy_qa 2
  kakunin status --output json`)
}
