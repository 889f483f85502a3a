package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"
	"unicode"

	"sigs.k8s.io/yaml"

	"github.com/cloudbro-ops/runguard/pkg/audit"
	"github.com/cloudbro-ops/runguard/pkg/config"
	"github.com/cloudbro-ops/runguard/pkg/log"
	"github.com/cloudbro-ops/runguard/pkg/metrics"
	"github.com/cloudbro-ops/runguard/pkg/pipeline"
	"github.com/cloudbro-ops/runguard/pkg/safety"
	"github.com/cloudbro-ops/runguard/pkg/sandbox"
	"github.com/cloudbro-ops/runguard/pkg/ui"
	"github.com/cloudbro-ops/runguard/pkg/web"
)

// Version info (set by ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// envDefault returns the environment variable value if set, otherwise the default.
func envDefault(envKey, defaultVal string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return defaultVal
}

func main() {
	// Command line flags - consistent --long-form style.
	// Flags fall back to RUNGUARD_* environment variables for container use.

	// Mode flags
	webMode := flag.Bool("web", false, "Serve the web approval service instead of running a batch")
	webPort := flag.Int("port", 8080, "Web service port (used with --web)")

	// Batch flags
	batchFile := flag.String("batch-file", "", "Read the batch from a JSON file instead of the arguments")
	batchMode := flag.String("mode", envDefault("RUNGUARD_MODE", ""), "Batch mode: best-effort or fail-fast")
	confirmVia := flag.String("confirm", envDefault("RUNGUARD_CONFIRM", "prompt"), "Confirmation surface: auto-deny, prompt, console")
	paranoid := flag.Bool("paranoid", false, "Gate medium-risk commands behind confirmation too")
	workDir := flag.String("workdir", "", "Root working directory for this batch (overrides config)")
	timeoutSeconds := flag.Int("timeout", 0, "Per-command timeout in seconds (overrides config)")

	// Web auth flags (env: RUNGUARD_AUTH_MODE, RUNGUARD_ADMIN_USER, RUNGUARD_ADMIN_PASSWORD)
	authMode := flag.String("auth-mode", envDefault("RUNGUARD_AUTH_MODE", ""), "Web auth mode: local, ldap, none")
	noAuth := flag.Bool("no-auth", false, "Disable web authentication (not recommended)")

	// Storage flags
	dbPath := flag.String("db-path", "", "Audit database path (default: ~/.config/runguard/audit.db)")
	noDB := flag.Bool("no-db", false, "Disable audit persistence entirely")
	showStorageInfo := flag.Bool("storage-info", false, "Show storage configuration and data locations")

	// Audit query flags
	auditQuery := flag.Bool("audit-query", false, "Query recorded audit entries and exit")
	queryBatchID := flag.String("batch-id", "", "Audit query: only this batch")
	queryRisk := flag.String("risk-level", "", "Audit query: only this risk level")
	queryDecision := flag.String("decision", "", "Audit query: only this decision")
	queryStatus := flag.String("status", "", "Audit query: only this execution status")
	queryBlocked := flag.Bool("blocked-only", false, "Audit query: only blocked commands")
	queryLimit := flag.Int("limit", 100, "Audit query: maximum entries returned")
	querySince := flag.String("since", "", "Audit query: RFC 3339 lower bound")
	queryUntil := flag.String("until", "", "Audit query: RFC 3339 upper bound")

	// Inspection flags
	format := flag.String("format", "table", "Output format: table, json, yaml")
	checkCommand := flag.String("check", "", "Classify a command and print the gate verdict without executing")
	catalogExport := flag.Bool("catalog-export", false, "Print the active risk catalog as YAML")

	// Info flags
	showVersion := flag.Bool("version", false, "Show version information")
	genCompletion := flag.String("completion", "", "Generate shell completion (bash, zsh, fish)")

	flag.Parse()

	// Show version
	if *showVersion {
		fmt.Printf("runguard version %s\n", Version)
		fmt.Printf("  Build time: %s\n", BuildTime)
		fmt.Printf("  Git commit: %s\n", GitCommit)
		return
	}

	// Generate shell completion
	if *genCompletion != "" {
		generateCompletion(*genCompletion)
		return
	}

	// Show storage info
	if *showStorageInfo {
		showStorageConfiguration()
		return
	}

	if err := log.Init("runguard"); err != nil {
		fmt.Printf("Warning: could not initialize logger: %v\n", err)
	}

	// Load config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Errorf("Failed to load config: %v", err)
		cfg = config.NewDefaultConfig()
	}

	// Override config from CLI flags
	if *paranoid {
		cfg.Gate.Profile = "paranoid"
	}
	if *timeoutSeconds > 0 {
		cfg.Sandbox.TimeoutSeconds = *timeoutSeconds
	}
	if *workDir != "" {
		cfg.Sandbox.AllowedRoot = *workDir
	}
	if *dbPath != "" {
		cfg.Storage.DBPath = *dbPath
	}
	if *noDB {
		cfg.EnableAudit = false
	}
	if *noAuth {
		cfg.Web.AuthMode = "none"
	} else if *authMode != "" {
		cfg.Web.AuthMode = *authMode
	}

	// Catalog export
	if *catalogExport {
		exportCatalog(cfg)
		return
	}

	// Classify-only mode
	if *checkCommand != "" {
		runCheck(cfg, *checkCommand, *format)
		return
	}

	// Audit query mode
	if *auditQuery {
		filter := audit.QueryFilter{
			BatchID:     *queryBatchID,
			RiskLevel:   *queryRisk,
			Decision:    audit.Decision(*queryDecision),
			Status:      sandbox.ExecutionStatus(*queryStatus),
			BlockedOnly: *queryBlocked,
			Limit:       *queryLimit,
		}
		runAuditQuery(cfg, filter, *querySince, *queryUntil, *format)
		return
	}

	// Web mode
	if *webMode {
		cfg.Web.Port = *webPort
		runWebServer(cfg)
		return
	}

	// Batch mode
	runBatch(cfg, flag.Args(), *batchFile, *batchMode, *confirmVia, *format)
}

// openRecorders builds the audit sink stack: the database when persistence
// is on, the append-only file when enabled. With everything off the empty
// multi recorder discards entries so the pipeline still runs.
func openRecorders(cfg *config.Config) (audit.Recorder, *audit.Store, func(), error) {
	var sinks []audit.Recorder
	var store *audit.Store

	if cfg.EnableAudit && cfg.Storage.PersistAudit {
		s, err := audit.OpenStore(cfg.Storage)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open audit store: %w", err)
		}
		log.Infof("Audit store ready: %s (%s)", s.Target(), s.Type())
		store = s
		sinks = append(sinks, s)
	}

	if cfg.EnableAudit && cfg.Storage.EnableAuditFile {
		f, err := audit.NewFileRecorder(cfg.GetEffectiveAuditFilePath())
		if err != nil {
			if store != nil {
				store.Close()
			}
			return nil, nil, nil, fmt.Errorf("open audit file: %w", err)
		}
		sinks = append(sinks, f)
	}

	multi := audit.NewMultiRecorder(sinks...)
	cleanup := func() {
		if err := multi.Close(); err != nil {
			log.Warnf("Closing audit sinks: %v", err)
		}
	}
	return multi, store, cleanup, nil
}

func runBatch(cfg *config.Config, args []string, batchFile, mode, confirmVia, format string) {
	requests, err := loadBatch(args, batchFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if len(requests) == 0 {
		fmt.Fprintln(os.Stderr, "Error: nothing to run. Pass commands as arguments or use --batch-file.")
		os.Exit(2)
	}

	execMode, err := pipeline.ParseMode(mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	catalog := safety.NewCatalogStore(safety.BuildCatalog(cfg.Catalog))
	classifier := safety.NewClassifier(catalog)
	gate := safety.NewGate(cfg.Gate)

	recorder, _, cleanup, err := openRecorders(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	adapter, err := sandbox.NewAdapter()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	executor, err := sandbox.NewExecutor(cfg.Sandbox, adapter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var console *ui.Console
	var confirmer pipeline.Confirmer
	switch confirmVia {
	case "auto-deny":
		confirmer = pipeline.DenyAll()
	case "prompt":
		confirmer = &ui.PromptConfirmer{Timeout: gate.ApprovalTimeout()}
	case "console":
		console = ui.NewConsole(ui.ConsoleOptions{
			Timeout: gate.ApprovalTimeout,
			Profile: cfg.Gate.Profile,
		})
		confirmer = console
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown confirmation surface %q (want auto-deny, prompt, or console)\n", confirmVia)
		os.Exit(2)
	}

	orch, err := pipeline.NewOrchestrator(pipeline.Options{
		Classifier: classifier,
		Gate:       gate,
		Executor:   executor,
		Recorder:   recorder,
		Confirmer:  confirmer,
		Collector:  metrics.NewCollector(32),
		Mode:       execMode,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Cancellation still audits the remaining commands as skipped.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warnf("Received signal %v, cancelling batch", sig)
		cancel()
	}()

	log.Infof("Running batch: %d commands (%s, confirm via %s)", len(requests), execMode, confirmVia)

	var result *pipeline.BatchResult
	var runErr error
	if console != nil {
		// The console owns the terminal while the batch runs.
		batchDone := make(chan struct{})
		go func() {
			defer close(batchDone)
			result, runErr = orch.ExecuteBatch(ctx, requests)
			console.Stop()
		}()
		if err := console.Run(); err != nil {
			log.Errorf("Approval console error: %v", err)
		}
		<-batchDone
	} else {
		result, runErr = orch.ExecuteBatch(ctx, requests)
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Error: batch aborted: %v\n", runErr)
		os.Exit(1)
	}

	if err := printResult(os.Stdout, result, format); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if result.Status != pipeline.BatchAllSucceeded {
		os.Exit(1)
	}
}

func runWebServer(cfg *config.Config) {
	recorder, store, cleanup, err := openRecorders(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	adapter, err := sandbox.NewAdapter()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	executor, err := sandbox.NewExecutor(cfg.Sandbox, adapter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	server, err := web.NewServer(web.Options{
		Config:    cfg,
		Catalog:   safety.NewCatalogStore(safety.BuildCatalog(cfg.Catalog)),
		Executor:  executor,
		Recorder:  recorder,
		Store:     store,
		Collector: metrics.NewCollector(64),
		Version: &web.VersionInfo{
			Version:   Version,
			BuildTime: BuildTime,
			GitCommit: GitCommit,
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to create web server: %v\n", err)
		os.Exit(1)
	}

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
		close(serverErrCh)
	}()

	select {
	case sig := <-sigCh:
		fmt.Printf("\nReceived signal %v, shutting down...\n", sig)
		if err := server.Stop(); err != nil {
			log.Errorf("Error stopping web server: %v", err)
		}
		fmt.Println("Shutdown complete.")
	case err := <-serverErrCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: Web server stopped: %v\n", err)
			os.Exit(1)
		}
	}
}

func runCheck(cfg *config.Config, command, format string) {
	catalog := safety.NewCatalogStore(safety.BuildCatalog(cfg.Catalog))
	classification := safety.NewClassifier(catalog).Classify(command)
	verdict := safety.NewGate(cfg.Gate).Decide(classification)

	report := struct {
		Command        string                 `json:"command"`
		Classification *safety.Classification `json:"classification"`
		Verdict        *safety.GateVerdict    `json:"verdict"`
	}{command, classification, verdict}

	switch format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(report)
	case "yaml":
		out, err := yaml.Marshal(report)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Stdout.Write(out)
	case "table", "":
		fmt.Printf("command:  %s\n", command)
		fmt.Printf("risk:     %s\n", classification.Level)
		if classification.Pattern != "" {
			fmt.Printf("pattern:  %s\n", classification.Pattern)
		}
		if classification.Reason != "" {
			fmt.Printf("reason:   %s\n", classification.Reason)
		}
		for _, w := range classification.Warnings {
			fmt.Printf("warning:  %s\n", w)
		}
		fmt.Printf("verdict:  %s\n", verdict.Decision)
		for _, w := range verdict.Warnings {
			fmt.Printf("warning:  %s\n", w)
		}
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown format %q (want table, json, or yaml)\n", format)
		os.Exit(2)
	}

	if verdict.Decision == safety.DecisionDeny {
		os.Exit(1)
	}
}

func runAuditQuery(cfg *config.Config, filter audit.QueryFilter, since, until, format string) {
	if !cfg.EnableAudit || !cfg.Storage.PersistAudit {
		fmt.Fprintln(os.Stderr, "Error: audit persistence is disabled; nothing to query")
		os.Exit(1)
	}

	if since != "" {
		ts, err := time.Parse(time.RFC3339, since)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: --since: %v\n", err)
			os.Exit(2)
		}
		filter.Since = ts
	}
	if until != "" {
		ts, err := time.Parse(time.RFC3339, until)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: --until: %v\n", err)
			os.Exit(2)
		}
		filter.Until = ts
	}

	store, err := audit.OpenStore(cfg.Storage)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	entries, err := store.Query(filter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	switch format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(entries)
	case "yaml":
		out, err := yaml.Marshal(entries)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Stdout.Write(out)
	case "table", "":
		printAuditTable(os.Stdout, entries)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown format %q (want table, json, or yaml)\n", format)
		os.Exit(2)
	}
}

func exportCatalog(cfg *config.Config) {
	out, err := safety.BuildCatalog(cfg.Catalog).ExportYAML()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	os.Stdout.Write(out)
}

// loadBatch builds the request list from the arguments or a batch file.
// A batch file holds either a JSON array (bare command strings or request
// objects) or an object with a "commands" field.
func loadBatch(args []string, batchFile string) ([]pipeline.CommandRequest, error) {
	if batchFile == "" {
		requests := make([]pipeline.CommandRequest, 0, len(args))
		for _, arg := range args {
			if strings.TrimSpace(arg) == "" {
				continue
			}
			requests = append(requests, pipeline.CommandRequest{Command: arg})
		}
		return requests, nil
	}
	if len(args) > 0 {
		return nil, errors.New("pass commands as arguments or with --batch-file, not both")
	}

	data, err := os.ReadFile(batchFile)
	if err != nil {
		return nil, fmt.Errorf("read batch file: %w", err)
	}

	trimmed := bytes.TrimLeftFunc(data, unicode.IsSpace)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var wrapper struct {
			Commands []pipeline.CommandRequest `json:"commands"`
		}
		if err := json.Unmarshal(data, &wrapper); err != nil {
			return nil, fmt.Errorf("parse batch file: %w", err)
		}
		return wrapper.Commands, nil
	}

	var requests []pipeline.CommandRequest
	if err := json.Unmarshal(data, &requests); err != nil {
		return nil, fmt.Errorf("parse batch file: %w", err)
	}
	return requests, nil
}

func printResult(w io.Writer, result *pipeline.BatchResult, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case "yaml":
		out, err := yaml.Marshal(result)
		if err != nil {
			return err
		}
		_, err = w.Write(out)
		return err
	case "table", "":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "#\tRISK\tDECISION\tSTATUS\tEXIT\tDURATION\tCOMMAND")
		for i, oc := range result.Outcomes {
			risk := "-"
			if oc.Classification != nil {
				risk = oc.Classification.Level.String()
			}
			exit := "-"
			if oc.Result.ExitCode != nil {
				exit = strconv.Itoa(*oc.Result.ExitCode)
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%dms\t%s\n",
				i+1, risk, oc.Decision, oc.Result.Status, exit,
				oc.Result.Duration.Milliseconds(), oc.Request.Command)
		}
		tw.Flush()

		for i, oc := range result.Outcomes {
			if oc.Result.Stdout == "" && oc.Result.Stderr == "" {
				continue
			}
			fmt.Fprintf(w, "\n--- %d: %s\n", i+1, oc.Request.Command)
			if oc.Result.Stdout != "" {
				fmt.Fprint(w, oc.Result.Stdout)
				if !strings.HasSuffix(oc.Result.Stdout, "\n") {
					fmt.Fprintln(w)
				}
			}
			if oc.Result.Stderr != "" {
				fmt.Fprint(w, oc.Result.Stderr)
				if !strings.HasSuffix(oc.Result.Stderr, "\n") {
					fmt.Fprintln(w)
				}
			}
		}

		fmt.Fprintf(w, "\nbatch %s: %s in %dms\n", result.BatchID, result.Status, result.DurationMS)
		return nil
	default:
		return fmt.Errorf("unknown format %q (want table, json, or yaml)", format)
	}
}

func printAuditTable(w io.Writer, entries []audit.AuditEntry) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tBATCH\tRISK\tDECISION\tSTATUS\tEXIT\tCOMMAND")
	for _, e := range entries {
		exit := "-"
		if e.ExitCode != nil {
			exit = strconv.Itoa(*e.ExitCode)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format("2006-01-02 15:04:05"),
			shortID(e.BatchID), e.RiskLevel, e.Decision, e.Status, exit, e.Command)
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d entries\n", len(entries))
}

// shortID trims a UUID to its first group for table display.
func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}

func showStorageConfiguration() {
	cfg, _ := config.LoadConfig()
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}

	fmt.Println("runguard Storage Configuration")
	fmt.Println("==============================")
	fmt.Println()

	fmt.Println("[Database]")
	fmt.Printf("  Type:     %s\n", cfg.Storage.DBType)
	if cfg.Storage.DBType == "sqlite" || cfg.Storage.DBType == "" {
		dbPath := cfg.GetEffectiveDBPath()
		fmt.Printf("  Path:     %s\n", dbPath)
		if info, err := os.Stat(dbPath); err == nil {
			fmt.Printf("  Size:     %.2f MB\n", float64(info.Size())/1024/1024)
			fmt.Printf("  Modified: %s\n", info.ModTime().Format("2006-01-02 15:04:05"))
		} else {
			fmt.Printf("  Status:   Not created yet\n")
		}
	} else {
		fmt.Printf("  Host:     %s:%d\n", cfg.Storage.DBHost, cfg.Storage.DBPort)
		fmt.Printf("  Database: %s\n", cfg.Storage.DBName)
		fmt.Printf("  User:     %s\n", cfg.Storage.DBUser)
	}
	fmt.Println()

	fmt.Println("[Data Persistence]")
	fmt.Printf("  Audit Enabled: %v\n", cfg.EnableAudit)
	fmt.Printf("  Database:      %v\n", cfg.Storage.PersistAudit)
	fmt.Println()

	fmt.Println("[Audit File]")
	fmt.Printf("  Enabled:  %v\n", cfg.Storage.EnableAuditFile)
	if cfg.Storage.EnableAuditFile {
		auditPath := cfg.GetEffectiveAuditFilePath()
		fmt.Printf("  Path:     %s\n", auditPath)
		if info, err := os.Stat(auditPath); err == nil {
			fmt.Printf("  Size:     %.2f MB\n", float64(info.Size())/1024/1024)
		}
	}
	fmt.Println()

	fmt.Println("[Data Retention]")
	if cfg.Storage.AuditRetentionDays == 0 {
		fmt.Printf("  Audit Entries:  Forever\n")
	} else {
		fmt.Printf("  Audit Entries:  %d days\n", cfg.Storage.AuditRetentionDays)
	}
	fmt.Println()

	fmt.Println("[Configuration File]")
	fmt.Printf("  Path:     %s\n", config.GetConfigPath())
	if _, err := os.Stat(config.GetConfigPath()); err == nil {
		fmt.Printf("  Status:   Exists\n")
	} else {
		fmt.Printf("  Status:   Using defaults\n")
	}
	fmt.Println()

	fmt.Println("[Data Stored]")
	fmt.Println("  - audit_entries:   Every command with classification, decision, and outcome")
	fmt.Printf("  - Audit Log File:  %s (if enabled)\n", cfg.GetEffectiveAuditFilePath())
	fmt.Printf("  - Config:          %s\n", config.GetConfigPath())
}

// generateCompletion outputs shell completion script
func generateCompletion(shell string) {
	switch shell {
	case "bash":
		fmt.Print(bashCompletion)
	case "zsh":
		fmt.Print(zshCompletion)
	case "fish":
		fmt.Print(fishCompletion)
	default:
		fmt.Fprintf(os.Stderr, "Unknown shell: %s. Supported: bash, zsh, fish\n", shell)
		os.Exit(1)
	}
}

const bashCompletion = `# runguard bash completion
_runguard_completions() {
    local cur prev opts
    COMPREPLY=()
    cur="${COMP_WORDS[COMP_CWORD]}"
    prev="${COMP_WORDS[COMP_CWORD-1]}"

    opts="--web --port --batch-file --mode --confirm --paranoid --workdir --timeout --db-path --no-db --storage-info --audit-query --batch-id --risk-level --decision --status --blocked-only --limit --since --until --format --check --catalog-export --version --completion"

    case "${prev}" in
        --mode)
            COMPREPLY=( $(compgen -W "best-effort fail-fast" -- ${cur}) )
            return 0
            ;;
        --confirm)
            COMPREPLY=( $(compgen -W "auto-deny prompt console" -- ${cur}) )
            return 0
            ;;
        --format)
            COMPREPLY=( $(compgen -W "table json yaml" -- ${cur}) )
            return 0
            ;;
        --risk-level)
            COMPREPLY=( $(compgen -W "safe low medium high critical" -- ${cur}) )
            return 0
            ;;
        --completion)
            COMPREPLY=( $(compgen -W "bash zsh fish" -- ${cur}) )
            return 0
            ;;
    esac

    COMPREPLY=( $(compgen -W "${opts}" -- ${cur}) )
    return 0
}
complete -F _runguard_completions runguard

# To enable: source <(runguard --completion bash)
# Or add to ~/.bashrc: eval "$(runguard --completion bash)"
`

const zshCompletion = `#compdef runguard

_runguard() {
    local -a opts

    opts=(
        '--web[Serve the web approval service]'
        '--port[Web service port]:port:'
        '--batch-file[Read the batch from a JSON file]:file:_files'
        '--mode[Batch mode]:mode:(best-effort fail-fast)'
        '--confirm[Confirmation surface]:surface:(auto-deny prompt console)'
        '--paranoid[Gate medium-risk commands too]'
        '--workdir[Root working directory]:dir:_directories'
        '--timeout[Per-command timeout in seconds]:seconds:'
        '--db-path[Audit database path]:file:_files'
        '--no-db[Disable audit persistence]'
        '--storage-info[Show storage configuration]'
        '--audit-query[Query recorded audit entries]'
        '--risk-level[Filter by risk level]:level:(safe low medium high critical)'
        '--format[Output format]:format:(table json yaml)'
        '--check[Classify a command without executing]:command:'
        '--catalog-export[Print the active risk catalog]'
        '--version[Show version information]'
        '--completion[Generate shell completion]:shell:(bash zsh fish)'
    )

    _arguments -s $opts
}

_runguard "$@"

# To enable: source <(runguard --completion zsh)
# Or add to ~/.zshrc: eval "$(runguard --completion zsh)"
`

const fishCompletion = `# runguard fish completion
complete -c runguard -l web -d 'Serve the web approval service'
complete -c runguard -l port -d 'Web service port'
complete -c runguard -l batch-file -d 'Read the batch from a JSON file' -r
complete -c runguard -l mode -d 'Batch mode' -xa 'best-effort fail-fast'
complete -c runguard -l confirm -d 'Confirmation surface' -xa 'auto-deny prompt console'
complete -c runguard -l paranoid -d 'Gate medium-risk commands too'
complete -c runguard -l workdir -d 'Root working directory' -r
complete -c runguard -l timeout -d 'Per-command timeout in seconds'
complete -c runguard -l db-path -d 'Audit database path' -r
complete -c runguard -l no-db -d 'Disable audit persistence'
complete -c runguard -l storage-info -d 'Show storage configuration'
complete -c runguard -l audit-query -d 'Query recorded audit entries'
complete -c runguard -l risk-level -d 'Filter by risk level' -xa 'safe low medium high critical'
complete -c runguard -l format -d 'Output format' -xa 'table json yaml'
complete -c runguard -l check -d 'Classify a command without executing' -r
complete -c runguard -l catalog-export -d 'Print the active risk catalog'
complete -c runguard -l version -d 'Show version information'
complete -c runguard -l completion -d 'Generate shell completion' -xa 'bash zsh fish'

# To enable: runguard --completion fish | source
# Or add to ~/.config/fish/config.fish: runguard --completion fish | source
`
