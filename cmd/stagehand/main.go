package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/jllopis/stagehand/pkg/batch"
	"github.com/jllopis/stagehand/pkg/config"
	serrors "github.com/jllopis/stagehand/pkg/errors"
	"github.com/jllopis/stagehand/pkg/ledger"
	"github.com/jllopis/stagehand/pkg/linker"
	"github.com/jllopis/stagehand/pkg/resilience"
	"github.com/jllopis/stagehand/pkg/schema"
	"github.com/jllopis/stagehand/pkg/studio"
	"github.com/jllopis/stagehand/pkg/telemetry"
)

const appVersion = "dev"

type globalFlags struct {
	ConfigPath string
	Timeout    time.Duration
	JSON       bool
	Debug      bool
	Help       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	global, args, err := parseGlobalFlags(os.Args[1:])
	if err != nil {
		fatal(err, global.JSON)
	}
	if global.Help || len(args) == 0 {
		printUsage()
		return
	}

	cfg, err := config.Load(global.ConfigPath)
	if err != nil {
		fatal(NewConfigError(err, global.ConfigPath), global.JSON)
	}
	if global.Debug {
		cfg.Log.Level = "debug"
	}
	if global.Timeout > 0 {
		cfg.Studio.Timeout = global.Timeout
	}

	telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	shutdown, err := telemetry.Init("stagehand", appVersion, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.Endpoint,
		OTLPInsecure: true,
	})
	if err != nil {
		fatal(err, global.JSON)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdown(shutdownCtx)
	}()

	switch args[0] {
	case "create":
		runCreate(ctx, global, cfg, args[1:])
	case "batch":
		runBatch(ctx, global, cfg, args[1:])
	case "run":
		runRun(ctx, global, cfg, args[1:])
	case "workflows":
		runWorkflows(ctx, global, cfg, args[1:])
	case "agents":
		runAgents(ctx, global, cfg, args[1:])
	case "validate":
		runValidate(global, args[1:])
	case "version":
		fmt.Println(appVersion)
	case "help":
		printUsage()
	default:
		fatal(NewInvalidArgumentError(args[0], fmt.Sprintf("unknown command %q", args[0])), global.JSON)
	}
}

func parseGlobalFlags(args []string) (globalFlags, []string, error) {
	flags := globalFlags{}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return flags, args[i+1:], nil
		}
		if !strings.HasPrefix(arg, "-") {
			return flags, args[i:], nil
		}
		switch {
		case arg == "-h" || arg == "--help":
			flags.Help = true
			return flags, nil, nil
		case arg == "--json":
			flags.JSON = true
		case arg == "--debug":
			flags.Debug = true
		case arg == "--config":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for --config")
			}
			flags.ConfigPath = args[i+1]
			i++
		case strings.HasPrefix(arg, "--config="):
			flags.ConfigPath = strings.TrimPrefix(arg, "--config=")
		case arg == "--timeout":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for --timeout")
			}
			value, err := time.ParseDuration(args[i+1])
			if err != nil {
				return flags, nil, fmt.Errorf("invalid --timeout: %w", err)
			}
			flags.Timeout = value
			i++
		case strings.HasPrefix(arg, "--timeout="):
			value, err := time.ParseDuration(strings.TrimPrefix(arg, "--timeout="))
			if err != nil {
				return flags, nil, fmt.Errorf("invalid --timeout: %w", err)
			}
			flags.Timeout = value
		default:
			return flags, nil, fmt.Errorf("unknown global flag %q", arg)
		}
	}
	return flags, nil, nil
}

func runCreate(ctx context.Context, global globalFlags, cfg *config.Config, args []string) {
	cmd := flag.NewFlagSet("create", flag.ContinueOnError)
	if err := cmd.Parse(args); err != nil {
		fatal(err, global.JSON)
	}
	if cmd.NArg() < 1 {
		fatal(NewInvalidArgumentError("file", "usage: stagehand create <agent.yaml>"), global.JSON)
	}
	path := cmd.Arg(0)

	raw, err := schema.LoadDocument(path)
	if err != nil {
		fatal(err, global.JSON)
	}
	switch kind := schema.DetectKind(raw); kind {
	case schema.KindAgent, schema.KindManager:
	default:
		fatal(NewInvalidArgumentError(path, fmt.Sprintf("%s document cannot be created as an agent", kind)), global.JSON)
	}

	store := openLedger(cfg)
	defer closeLedger(store)
	link := newLinker(cfg, store)

	result, err := link.CreateManagerWithRoles(ctx, raw, filepath.Dir(path), filepath.Base(filepath.Dir(path)))
	reportLink(global, result)
	if err != nil {
		fatal(wrapLinkError(err), global.JSON)
	}
}

func runBatch(ctx context.Context, global globalFlags, cfg *config.Config, args []string) {
	cmd := flag.NewFlagSet("batch", flag.ContinueOnError)
	skipRun := cmd.Bool("skip-run", false, "Link managers but do not run use cases")
	skipWorkflows := cmd.Bool("skip-workflows", false, "Do not create workflow snapshots")
	save := cmd.Bool("save", cfg.Run.Save, "Persist raw inference responses under run.output")
	if err := cmd.Parse(args); err != nil {
		fatal(err, global.JSON)
	}
	if cmd.NArg() < 1 {
		fatal(NewInvalidArgumentError("root", "usage: stagehand batch <output-root>"), global.JSON)
	}
	root := cmd.Arg(0)

	store := openLedger(cfg)
	defer closeLedger(store)

	metrics, err := telemetry.NewBatchMetrics()
	if err != nil {
		fatal(err, global.JSON)
	}

	client := newStudioClient(cfg)
	link := linker.New(client,
		linker.WithLedger(store),
		linker.WithMetrics(metrics),
	)

	var runner batch.UseCaseRunner
	if !*skipRun {
		opts := []batch.RunnerOption{
			batch.WithRetry(retryFromConfig(cfg)),
			batch.WithRunnerMetrics(metrics),
		}
		if *save {
			opts = append(opts, batch.WithSaveDir(cfg.Run.Output))
		}
		runner = batch.NewRunner(client, cfg.Studio.User, opts...)
	}

	walkerOpts := []batch.WalkerOption{batch.WithWalkerLedger(store)}
	if !*skipWorkflows {
		walkerOpts = append(walkerOpts, batch.WithWorkflows(client))
	}

	results, err := batch.NewWalker(link, runner, walkerOpts...).ProcessRoot(ctx, root)
	if err != nil {
		fatal(err, global.JSON)
	}

	failed := reportBatch(global, results)
	if failed > 0 {
		os.Exit(1)
	}
}

// runRun executes use cases. With --agent they run against an existing
// remote agent; without it the first file is an agent or manager definition
// that gets created (roles and all) before its use cases run.
func runRun(ctx context.Context, global globalFlags, cfg *config.Config, args []string) {
	cmd := flag.NewFlagSet("run", flag.ContinueOnError)
	agentID := cmd.String("agent", "", "Existing remote agent id to run against")
	agentName := cmd.String("name", "", "Display name used for saved outputs")
	save := cmd.Bool("save", cfg.Run.Save, "Persist raw inference responses under run.output")
	if err := cmd.Parse(args); err != nil {
		fatal(err, global.JSON)
	}
	if cmd.NArg() < 1 {
		fatal(NewInvalidArgumentError("file", "usage: stagehand run [--agent <id>] <manager.yaml> <use_cases.yaml>..."), global.JSON)
	}

	files := cmd.Args()
	id, name := strings.TrimSpace(*agentID), *agentName
	if id == "" {
		// Create-then-run: the first file defines the agent.
		raw, err := schema.LoadDocument(files[0])
		if err != nil {
			fatal(err, global.JSON)
		}
		store := openLedger(cfg)
		defer closeLedger(store)

		result, err := newLinker(cfg, store).CreateManagerWithRoles(ctx, raw,
			filepath.Dir(files[0]), filepath.Base(filepath.Dir(files[0])))
		reportLink(global, result)
		if err != nil {
			fatal(wrapLinkError(err), global.JSON)
		}
		id, name = result.ManagerID, result.ManagerName
		files = files[1:]
	}
	if name == "" {
		name = id
	}
	if len(files) == 0 {
		fatal(NewInvalidArgumentError("file", "no use-case files given"), global.JSON)
	}

	opts := []batch.RunnerOption{batch.WithRetry(retryFromConfig(cfg))}
	if *save {
		opts = append(opts, batch.WithSaveDir(cfg.Run.Output))
	}
	runner := batch.NewRunner(newStudioClient(cfg), cfg.Studio.User, opts...)

	failed := 0
	for _, path := range files {
		raw, err := schema.LoadDocument(path)
		if err != nil {
			fatal(err, global.JSON)
		}
		doc, err := schema.NormalizeUseCases(raw)
		if err != nil {
			fatal(err, global.JSON)
		}
		summary := runner.RunUseCases(ctx, id, name, doc.UseCases)
		reportRuns(global, summary)
		failed += summary.Failed
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func runWorkflows(ctx context.Context, global globalFlags, cfg *config.Config, args []string) {
	if len(args) == 0 || args[0] != "create" {
		fatal(NewInvalidArgumentError("workflows", "usage: stagehand workflows create <workflow.yaml>"), global.JSON)
	}
	cmd := flag.NewFlagSet("workflows create", flag.ContinueOnError)
	if err := cmd.Parse(args[1:]); err != nil {
		fatal(err, global.JSON)
	}
	if cmd.NArg() < 1 {
		fatal(NewInvalidArgumentError("file", "usage: stagehand workflows create <workflow.yaml>"), global.JSON)
	}

	raw, err := schema.LoadDocument(cmd.Arg(0))
	if err != nil {
		fatal(err, global.JSON)
	}
	doc, err := schema.NormalizeWorkflow(raw)
	if err != nil {
		fatal(wrapLinkError(err), global.JSON)
	}

	record, err := newStudioClient(cfg).CreateWorkflow(ctx, doc)
	if err != nil {
		fatal(WrapAPIError(err, "workflow create"), global.JSON)
	}

	store := openLedger(cfg)
	defer closeLedger(store)
	if store != nil {
		_ = store.Record(ctx, ledger.Entry{
			Kind:     ledger.KindWorkflow,
			BaseName: record.FlowName,
			RemoteID: record.FlowID,
		})
	}

	if global.JSON {
		printJSON(record)
		return
	}
	fmt.Printf("workflow %s created: flow_id=%s\n", record.FlowName, record.FlowID)
}

func runAgents(ctx context.Context, global globalFlags, cfg *config.Config, args []string) {
	if len(args) == 0 {
		fatal(NewInvalidArgumentError("agents", "usage: stagehand agents <list|delete|prune>"), global.JSON)
	}
	client := newStudioClient(cfg)

	switch args[0] {
	case "list":
		summaries, err := client.ListAgents(ctx)
		if err != nil {
			fatal(WrapAPIError(err, "agent listing"), global.JSON)
		}
		if global.JSON {
			printJSON(summaries)
			return
		}
		writer := newTabWriter()
		writeRow(writer, "ID", "NAME", "TEMPLATE", "DESCRIPTION")
		for _, summary := range summaries {
			writeRow(writer, summary.ID, summary.Name, summary.TemplateType, truncateCell(summary.Description, 60))
		}
		_ = writer.Flush()
	case "delete":
		if len(args) < 2 {
			fatal(NewInvalidArgumentError("id", "usage: stagehand agents delete <id>..."), global.JSON)
		}
		store := openLedger(cfg)
		defer closeLedger(store)
		for _, id := range args[1:] {
			if err := client.DeleteAgent(ctx, id); err != nil {
				fatal(WrapAPIError(err, "agent delete"), global.JSON)
			}
			if store != nil {
				_ = store.Remove(ctx, id)
			}
			fmt.Printf("deleted %s\n", id)
		}
	case "prune":
		cmd := flag.NewFlagSet("agents prune", flag.ContinueOnError)
		kind := cmd.String("kind", "", "Only prune entries of this kind (role, manager, agent)")
		if err := cmd.Parse(args[1:]); err != nil {
			fatal(err, global.JSON)
		}
		store := openLedger(cfg)
		if store == nil {
			fatal(NewInvalidArgumentError("ledger", "prune needs the creation ledger at ledger.path"), global.JSON)
		}
		defer closeLedger(store)
		pruneAgents(ctx, global, client, store, *kind)
	default:
		fatal(NewInvalidArgumentError(args[0], fmt.Sprintf("unknown agents command %q", args[0])), global.JSON)
	}
}

// pruneAgents deletes every ledger-recorded agent remotely and drops the
// entries that are confirmed gone. Workflows are skipped; they live under a
// different resource.
func pruneAgents(ctx context.Context, global globalFlags, client *studio.Client, store *ledger.Store, kind string) {
	entries, err := store.List(ctx, ledger.Filter{Kind: kind})
	if err != nil {
		fatal(err, global.JSON)
	}

	pruned, failed := 0, 0
	for _, entry := range entries {
		if entry.Kind == ledger.KindWorkflow {
			continue
		}
		err := client.DeleteAgent(ctx, entry.RemoteID)
		if err != nil && !isNotFound(err) {
			failed++
			PrintSimpleError(fmt.Errorf("deleting %s (%s): %w", entry.RemoteID, entry.StampedName, err), global.JSON)
			continue
		}
		// Gone remotely, by this call or earlier. Either way drop the entry.
		if err := store.Remove(ctx, entry.RemoteID); err != nil {
			failed++
			PrintSimpleError(err, global.JSON)
			continue
		}
		pruned++
	}

	fmt.Printf("pruned %d agents, %d failures\n", pruned, failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func runValidate(global globalFlags, args []string) {
	if len(args) == 0 {
		fatal(NewInvalidArgumentError("file", "usage: stagehand validate <file>..."), global.JSON)
	}

	defects := 0
	for _, path := range args {
		raw, err := schema.LoadDocument(path)
		if err != nil {
			defects++
			PrintSimpleError(err, global.JSON)
			continue
		}

		kind := schema.DetectKind(raw)
		switch kind {
		case schema.KindAgent, schema.KindManager:
			_, err = schema.Normalize(raw)
		case schema.KindUseCases:
			_, err = schema.NormalizeUseCases(raw)
		case schema.KindWorkflow:
			_, err = schema.NormalizeWorkflow(raw)
		}
		if err != nil {
			defects++
			var verr *serrors.ValidationError
			if errors.As(err, &verr) {
				verr.Doc = path
				NewValidationError(verr).PrintError(global.JSON)
			} else {
				PrintSimpleError(err, global.JSON)
			}
			continue
		}
		fmt.Printf("%s: %s ok\n", path, kind)
	}
	if defects > 0 {
		os.Exit(1)
	}
}

func newStudioClient(cfg *config.Config) *studio.Client {
	return studio.New(cfg.Studio.URL, cfg.Studio.Credential,
		studio.WithTimeout(cfg.Studio.Timeout))
}

func newLinker(cfg *config.Config, store *ledger.Store) *linker.Linker {
	return linker.New(newStudioClient(cfg), linker.WithLedger(store))
}

func retryFromConfig(cfg *config.Config) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:   cfg.Run.Attempts,
		InitialDelay:  cfg.Run.Backoff,
		MaxDelay:      time.Minute,
		Multiplier:    2.0,
		Jitter:        0.1,
		IsRecoverable: studio.IsTransient,
	}
}

// openLedger opens the creation ledger, or returns nil when it cannot be
// opened. Creation still works without it; only prune requires it.
func openLedger(cfg *config.Config) *ledger.Store {
	store, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		PrintSimpleError(fmt.Errorf("ledger unavailable at %s: %w", cfg.Ledger.Path, err), false)
		return nil
	}
	return store
}

func closeLedger(store *ledger.Store) {
	if store != nil {
		_ = store.Close()
	}
}

func wrapLinkError(err error) error {
	var verr *serrors.ValidationError
	if errors.As(err, &verr) {
		return NewValidationError(verr)
	}
	return WrapAPIError(err, "agent create")
}

func isNotFound(err error) bool {
	var apiErr *studio.APIError
	return errors.As(err, &apiErr) && apiErr.Status == 404
}

func reportLink(global globalFlags, result *linker.LinkResult) {
	if result == nil {
		return
	}
	if global.JSON {
		printJSON(map[string]any{
			"outcome":      result.Outcome,
			"manager_id":   result.ManagerID,
			"manager_name": result.ManagerName,
			"roles":        result.Roles,
		})
		return
	}
	for _, role := range result.Roles {
		fmt.Printf("role %s created: id=%s\n", role.Name, role.ID)
	}
	switch result.Outcome {
	case linker.OutcomeComplete:
		fmt.Printf("agent %s created: id=%s\n", result.ManagerName, result.ManagerID)
	case linker.OutcomePartiallyCreated:
		fmt.Printf("partially created: %d roles exist without a manager; 'stagehand agents prune' removes them\n", len(result.Roles))
	}
}

func reportBatch(global globalFlags, results []batch.FolderResult) int {
	failed := 0
	for _, result := range results {
		if result.Err != nil {
			failed++
		}
	}

	if global.JSON {
		out := make([]map[string]any, 0, len(results))
		for _, result := range results {
			entry := map[string]any{"folder": result.Folder}
			if result.Link != nil {
				entry["outcome"] = result.Link.Outcome
				entry["manager_id"] = result.Link.ManagerID
				entry["manager_name"] = result.Link.ManagerName
			}
			if result.Workflow != nil {
				entry["flow_id"] = result.Workflow.FlowID
			}
			if len(result.Runs) > 0 {
				entry["runs"] = result.Runs
			}
			if result.Err != nil {
				entry["error"] = result.Err.Error()
			}
			out = append(out, entry)
		}
		printJSON(out)
		return failed
	}

	writer := newTabWriter()
	writeRow(writer, "FOLDER", "OUTCOME", "MANAGER", "CASES", "ERROR")
	for _, result := range results {
		outcome, manager, cases, errMsg := "-", "-", "-", ""
		if result.Link != nil {
			outcome = string(result.Link.Outcome)
			manager = result.Link.ManagerName
		}
		if len(result.Runs) > 0 {
			total, ok := 0, 0
			for _, summary := range result.Runs {
				total += summary.Total
				ok += summary.Succeeded
			}
			cases = fmt.Sprintf("%d/%d", ok, total)
		}
		if result.Err != nil {
			errMsg = result.Err.Error()
		}
		writeRow(writer, result.Folder, outcome, manager, cases, truncateCell(errMsg, 80))
	}
	_ = writer.Flush()
	return failed
}

func reportRuns(global globalFlags, summary *batch.RunSummary) {
	if global.JSON {
		out := map[string]any{
			"manager":   summary.Manager,
			"total":     summary.Total,
			"succeeded": summary.Succeeded,
			"failed":    summary.Failed,
		}
		cases := make([]map[string]any, 0, len(summary.Results))
		for _, result := range summary.Results {
			entry := map[string]any{
				"use_case": result.UseCase,
				"attempts": result.Attempts,
			}
			if result.Err != nil {
				entry["error"] = result.Err.Error()
			} else {
				entry["response"] = result.Response
			}
			cases = append(cases, entry)
		}
		out["results"] = cases
		printJSON(out)
		return
	}

	writer := newTabWriter()
	writeRow(writer, "CASE", "STATUS", "ATTEMPTS", "DETAIL")
	for _, result := range summary.Results {
		status, detail := "ok", result.Response
		if result.Err != nil {
			status, detail = "failed", result.Err.Error()
		}
		writeRow(writer, result.UseCase, status, fmt.Sprintf("%d", result.Attempts), truncateCell(detail, 80))
	}
	_ = writer.Flush()
	fmt.Printf("%s: %d/%d succeeded\n", summary.Manager, summary.Succeeded, summary.Total)
}

func printJSON(value any) {
	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		fatal(err, false)
	}
	fmt.Println(string(payload))
}

func newTabWriter() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
}

func writeRow(writer *tabwriter.Writer, cols ...string) {
	for i, col := range cols {
		cols[i] = normalizeCell(col)
	}
	fmt.Fprintln(writer, strings.Join(cols, "\t"))
}

func normalizeCell(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "-"
	}
	return strings.Join(strings.Fields(value), " ")
}

func truncateCell(value string, limit int) string {
	value = normalizeCell(value)
	if limit <= 0 || len(value) <= limit {
		return value
	}
	if limit <= 3 {
		return value[:limit]
	}
	return value[:limit-3] + "..."
}

func printUsage() {
	fmt.Println(`Stagehand - agent studio orchestration

Usage:
  stagehand [global flags] <command> [args]

Global flags:
  --config <path>      Path to config YAML
  --timeout <dur>      Per-request timeout (overrides studio.timeout)
  --json               JSON output
  --debug              Debug logging

Commands:
  create <agent.yaml>                      Create an agent or a manager with its roles
  batch <output-root> [--skip-run] [--skip-workflows] [--save]
                                           Process every subfolder: link, workflows, use cases
  run [--agent <id>] [--save] <manager.yaml> <use_cases.yaml>...
                                           Create the agent (unless --agent) and run use cases
  workflows create <workflow.yaml>         Create a workflow snapshot
  agents list                              List remote agents
  agents delete <id>...                    Delete remote agents by id
  agents prune [--kind <k>]                Delete every ledger-recorded agent
  validate <file>...                       Check documents without network calls
  version
  help

Environment:
  STAGEHAND_STUDIO_URL, STAGEHAND_STUDIO_CREDENTIAL and friends override
  the matching config keys.`)
}

func fatal(err error, asJSON bool) {
	var cliErr *CLIError
	if errors.As(err, &cliErr) {
		cliErr.PrintError(asJSON)
	} else {
		PrintSimpleError(err, asJSON)
	}
	os.Exit(1)
}
