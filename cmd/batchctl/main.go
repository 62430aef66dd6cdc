// Command batchctl is the operator surface for the batch platform: inspect
// definitions and executions, run jobs one-shot, and verify connectivity.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/weatherflick/weather-flick-batch/internal/adapter/api/kma"
	"github.com/weatherflick/weather-flick-batch/internal/adapter/api/kto"
	"github.com/weatherflick/weather-flick-batch/internal/adapter/observability"
	"github.com/weatherflick/weather-flick-batch/internal/app"
	"github.com/weatherflick/weather-flick-batch/internal/config"
	"github.com/weatherflick/weather-flick-batch/internal/domain"
	"github.com/weatherflick/weather-flick-batch/internal/jobs"
)

const usageText = `usage: batchctl <command> [arguments]

commands:
  list           print the registered job definitions
  run <job-id>   run one job now through the regular execution path
  run-all        run every enabled job in dependency order
  status         show recent executions and the key registry
  test           verify config, database, Redis and provider connectivity
  digest <pass>  print an argon2id digest for OPS_AUTH_DIGEST
`

const (
	exitOK      = 0
	exitFailure = 1
	exitMisuse  = 2
	exitQuota   = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usageText)
		return exitMisuse
	}
	switch args[0] {
	case "list", "run", "run-all", "status", "test", "digest":
	default:
		fmt.Fprintf(os.Stderr, "batchctl: unknown command %q\n\n%s", args[0], usageText)
		return exitMisuse
	}

	// digest needs no configuration or backing services.
	if args[0] == "digest" {
		return runDigest(args[1:])
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "batchctl: %v\n", err)
		return exitFailure
	}
	slog.SetDefault(observability.SetupLogger(cfg))

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	// list works from configuration alone.
	if args[0] == "list" {
		return runList(os.Stdout, cfg)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sys, err := app.BuildSystem(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "batchctl: %v\n", err)
		return exitFailure
	}
	defer sys.Close()

	switch args[0] {
	case "run":
		if len(args) != 2 || args[1] == "" {
			fmt.Fprintf(os.Stderr, "batchctl: run needs exactly one job id\n\n%s", usageText)
			return exitMisuse
		}
		return runOne(ctx, sys, args[1])
	case "run-all":
		return runAll(ctx, sys)
	case "status":
		return runStatus(ctx, sys)
	default:
		return runTest(ctx, sys)
	}
}

func runList(w io.Writer, cfg config.Config) int {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tTYPE\tTRIGGER\tPRIORITY\tTIMEOUT\tDEPENDS ON\tENABLED")
	for _, def := range jobs.DefaultDefinitions(cfg.JobTimeout, cfg.RetryPolicy()) {
		deps := strings.Join(def.DependsOn, ",")
		if deps == "" {
			deps = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%t\n",
			def.ID, def.Type, triggerString(def.Trigger), def.Priority, def.Timeout, deps, def.Enabled)
	}
	_ = tw.Flush()
	return exitOK
}

func runOne(ctx context.Context, sys *app.System, jobID string) int {
	exec, err := sys.Scheduler.RunJob(ctx, jobID)
	if errors.Is(err, domain.ErrNotFound) {
		fmt.Fprintf(os.Stderr, "batchctl: unknown job %q; see batchctl list\n", jobID)
		return exitMisuse
	}
	if exec.ID != "" {
		printExecutions(os.Stdout, []domain.JobExecution{exec})
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "batchctl: run %s: %v\n", jobID, err)
		if errors.Is(err, domain.ErrQuotaExhausted) {
			return exitQuota
		}
		return exitFailure
	}
	return exitOK
}

func runAll(ctx context.Context, sys *app.System) int {
	execs, err := sys.Scheduler.RunAll(ctx)
	if len(execs) > 0 {
		printExecutions(os.Stdout, execs)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "batchctl: run-all: %v\n", err)
		if errors.Is(err, domain.ErrQuotaExhausted) {
			return exitQuota
		}
		return exitFailure
	}
	return exitOK
}

func runStatus(ctx context.Context, sys *app.System) int {
	execs, err := sys.Ledger.ListRecent(ctx, 20)
	if err != nil {
		fmt.Fprintf(os.Stderr, "batchctl: status: %v\n", err)
		return exitFailure
	}
	fmt.Println("Recent executions:")
	printExecutions(os.Stdout, execs)
	fmt.Println()
	fmt.Println("API keys:")
	printKeys(os.Stdout, sys.Keys.Snapshot())
	return exitOK
}

func runTest(ctx context.Context, sys *app.System) int {
	failures := 0
	quotaHit := false

	// BuildSystem already connected, migrated and hydrated; these probes
	// confirm the dependencies answer right now.
	for _, check := range sys.ReadyChecks() {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := check.Check(cctx)
		cancel()
		printCheck(check.Name, err)
		if err != nil {
			failures++
		}
	}

	for _, provider := range []domain.Provider{domain.ProviderKTO, domain.ProviderKMA} {
		name := string(provider) + " api"
		secrets := sys.Config.ProviderSecrets(provider)
		if len(secrets) == 0 {
			fmt.Printf("SKIP  %s: no keys configured\n", name)
			continue
		}
		endpoint, params := probeRequest(provider, sys)
		err := sys.Executor.Probe(ctx, provider, endpoint, params, secrets[0])
		printCheck(name, err)
		if err != nil {
			failures++
			if errors.Is(err, domain.ErrQuotaExhausted) {
				quotaHit = true
			}
		}
	}

	if quotaHit {
		return exitQuota
	}
	if failures > 0 {
		return exitFailure
	}
	fmt.Println("all checks passed")
	return exitOK
}

func runDigest(args []string) int {
	if len(args) != 1 || args[0] == "" {
		fmt.Fprintf(os.Stderr, "batchctl: digest needs the password as its single argument\n\n%s", usageText)
		return exitMisuse
	}
	digest, err := app.HashDigest(args[0], app.DefaultArgon2Params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "batchctl: digest: %v\n", err)
		return exitFailure
	}
	fmt.Println(digest)
	return exitOK
}

func probeRequest(provider domain.Provider, sys *app.System) (string, map[string]string) {
	if provider == domain.ProviderKMA {
		return kma.ProbeRequest(time.Now(), sys.Location)
	}
	return kto.ProbeRequest()
}

func printCheck(name string, err error) {
	if err != nil {
		fmt.Printf("FAIL  %s: %v\n", name, err)
		return
	}
	fmt.Printf("OK    %s\n", name)
}

func triggerString(t domain.Trigger) string {
	if t.Interval > 0 {
		return "every " + t.Interval.String()
	}
	return "cron " + t.Cron
}

func printExecutions(w io.Writer, execs []domain.JobExecution) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tSTATUS\tSTARTED\tDURATION\tRECORDS\tRETRY\tERROR")
	for _, e := range execs {
		dur := "-"
		if e.CompletedAt != nil {
			dur = e.CompletedAt.Sub(e.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			e.JobID, e.Status, e.StartedAt.Format(time.RFC3339), dur,
			e.ProcessedRecords, e.FailedRecords, e.RetryStatus,
			truncate(e.ErrorMessage, 60))
	}
	_ = tw.Flush()
}

func printKeys(w io.Writer, keys []domain.KeyStatus) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROVIDER\tKEY\tSTATE\tUSAGE\tERRORS\tCOOLDOWN UNTIL")
	for _, k := range keys {
		cooldown := "-"
		if !k.CooldownUntil.IsZero() {
			cooldown = k.CooldownUntil.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%d\t%s\n",
			k.Provider, k.Hash, k.State, k.Usage, k.DailyQuota, k.ConsecutiveErrors, cooldown)
	}
	_ = tw.Flush()
}

func truncate(s string, n int) string {
	if s == "" {
		return "-"
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
