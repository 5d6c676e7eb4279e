package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"

	"github.com/davidahmann/liqueflow/internal/audit"
	"github.com/davidahmann/liqueflow/internal/batch"
	"github.com/davidahmann/liqueflow/internal/bootstrap"
	"github.com/davidahmann/liqueflow/internal/config"
	"github.com/davidahmann/liqueflow/internal/intake"
	"github.com/davidahmann/liqueflow/internal/ledger"
	"github.com/davidahmann/liqueflow/internal/metrics"
	"github.com/davidahmann/liqueflow/internal/money"
	"github.com/davidahmann/liqueflow/internal/policy"
)

const defaultAddr = "http://localhost:8080"

func main() {
	exitFn(run(os.Args, os.Stdout, os.Stderr))
}

var exitFn = os.Exit

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	if len(args) < 2 {
		usage(stderr)
		return 2
	}

	switch args[1] {
	case "run":
		return handleRun(args[2:], stdout, stderr)
	case "verify":
		return handleVerify(args[2:], stdout, stderr)
	case "ledger":
		return handleLedger(args[2:], stdout, stderr)
	case "migrate":
		return handleMigrate(args[2:], stdout, stderr)
	case "policy":
		return handlePolicy(args[2:], stdout, stderr)
	default:
		usage(stderr)
		return 2
	}
}

type runReport struct {
	batch.Summary
	Report           metrics.Report `json:"report"`
	HealthScore      float64        `json:"health_score"`
	BufferEfficiency float64        `json:"buffer_efficiency"`
}

func handleRun(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", os.Getenv("LIQUEFLOW_CONFIG_PATH"), "path to liqueflow config file")
	jsonOut := fs.Bool("json", false, "print the run summary as JSON")
	if err := fs.Parse(args); err != nil {
		fs.Usage()
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "run requires <instructions.json|instructions.csv>")
		fs.Usage()
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, "config:", err)
		return 1
	}
	rt, err := bootstrap.Build(cfg, bootstrap.Options{Logger: log.New(stderr, "", log.LstdFlags)})
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}
	defer rt.Close()

	normalizer := intake.DefaultNormalizer()
	normalizer.Currency = cfg.Currency
	instructions, err := normalizer.LoadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(stderr, "load instructions:", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	summary, runErr := rt.Runner.Run(ctx, instructions, rt.InitialSnapshot())
	report := rt.Tracker.Report(summary.Snapshot.LastUpdate)
	out := runReport{
		Summary:          summary,
		Report:           report,
		HealthScore:      metrics.HealthScore(summary.Snapshot, report),
		BufferEfficiency: metrics.BufferEfficiency(summary.Snapshot, cfg.InitialBalance),
	}

	if *jsonOut {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
	} else {
		printRun(stdout, out)
	}
	if runErr != nil {
		fmt.Fprintln(stderr, "run aborted:", runErr)
		return 1
	}
	return 0
}

func printRun(w io.Writer, out runReport) {
	for _, step := range out.Steps {
		fmt.Fprintf(w, "instruction_id=%s decision=%s amount=%s risk=%.2f artifact_id=%s\n",
			step.Instruction.ID, step.Result.Decision, money.Format(step.Instruction.Amount), step.Result.RiskScore, step.ArtifactID)
		for _, reason := range step.Result.ReasoningSteps {
			fmt.Fprintf(w, "  - %s\n", reason)
		}
	}
	r := out.Report
	fmt.Fprintf(w, "processed=%d settled=%d queued=%d rejected=%d human_overrides=%d repos=%d skipped=%d\n",
		r.TotalProcessed, r.Settled, r.Queued, r.Rejected, r.HumanOverrides, r.Repos, len(out.Skipped))
	fmt.Fprintf(w, "balance=%s pending=%d opportunity_cost_saved=%s health=%.1f buffer_efficiency=%.1f\n",
		money.Format(out.Snapshot.Balance), len(out.Snapshot.PendingQueue), money.Format(r.OpportunityCostSaved), out.HealthScore, out.BufferEfficiency)
}

func handleVerify(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", envOrDefault("LIQUEFLOW_ADDR", defaultAddr), "Liqueflow API address")
	configPath := fs.String("config", "", "verify against the configured database instead of the API")
	jsonOut := fs.Bool("json", false, "print raw JSON response")
	token := fs.String("token", os.Getenv("LIQUEFLOW_API_TOKEN"), "bearer token")
	if err := fs.Parse(args); err != nil {
		fs.Usage()
		return 2
	}

	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "verify requires <artifact_id>")
		fs.Usage()
		return 2
	}
	artifactID := fs.Arg(0)

	if *configPath != "" {
		return verifyLocal(*configPath, artifactID, stdout, stderr)
	}

	respBody, status, err := httpGet(http.DefaultClient, *addr+"/v1/verify/"+artifactID, *token)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}

	if *jsonOut {
		_, _ = stdout.Write(respBody)
		return 0
	}

	var payload struct {
		ArtifactID string `json:"artifact_id"`
		Valid      bool   `json:"valid"`
		Error      string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &payload); err != nil {
		fmt.Fprintln(stderr, "invalid response:", err)
		return 1
	}

	if status != http.StatusOK {
		fmt.Fprintf(stderr, "verify failed: %s\n", strings.TrimSpace(string(respBody)))
		return 1
	}

	if payload.Valid {
		fmt.Fprintf(stdout, "valid=true artifact_id=%s\n", payload.ArtifactID)
		return 0
	}
	fmt.Fprintf(stdout, "valid=false artifact_id=%s error=%s\n", payload.ArtifactID, payload.Error)
	return 1
}

func verifyLocal(configPath, artifactID string, stdout io.Writer, stderr io.Writer) int {
	store, closer, code := openConfiguredStore(configPath, stderr)
	if store == nil {
		return code
	}
	if closer != nil {
		defer closer.Close()
	}

	rec, ok := store.GetDecision(artifactID)
	if !ok {
		fmt.Fprintf(stderr, "artifact %s not found\n", artifactID)
		return 1
	}
	if err := audit.VerifyRecord(rec); err != nil {
		fmt.Fprintf(stdout, "valid=false artifact_id=%s error=%s\n", artifactID, err)
		return 1
	}
	fmt.Fprintf(stdout, "valid=true artifact_id=%s instruction_id=%s decision=%s\n", artifactID, rec.InstructionID, rec.Decision)
	return 0
}

func handleLedger(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("ledger", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", os.Getenv("LIQUEFLOW_CONFIG_PATH"), "path to liqueflow config file")
	if err := fs.Parse(args); err != nil {
		fs.Usage()
		return 2
	}

	store, closer, code := openConfiguredStore(*configPath, stderr)
	if store == nil {
		return code
	}
	if closer != nil {
		defer closer.Close()
	}

	led, err := ledger.Load(store)
	if err != nil {
		fmt.Fprintln(stderr, "ledger:", err)
		return 1
	}
	snap := led.Snapshot()
	owners := make([]string, 0, len(snap.Balances))
	for owner := range snap.Balances {
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	for _, owner := range owners {
		fmt.Fprintf(stdout, "account=%s balance=%s\n", owner, money.Format(snap.Balances[owner]))
	}
	fmt.Fprintf(stdout, "active_tokens=%d settlements=%d executed=%d failed=%d log_entries=%d conservation=ok\n",
		snap.ActiveTokens, snap.TotalSettlements, snap.ExecutedSettlements, snap.FailedSettlements, snap.InstructionLogEntries)
	return 0
}

func handleMigrate(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", os.Getenv("LIQUEFLOW_CONFIG_PATH"), "path to liqueflow config file")
	if err := fs.Parse(args); err != nil {
		fs.Usage()
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, "config:", err)
		return 1
	}
	if cfg.DB.Driver == "" {
		fmt.Fprintln(stderr, "migrate requires db.driver")
		return 2
	}
	store, closer, err := bootstrap.OpenStore(cfg.DB)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}
	defer closer.Close()

	if dbStore, ok := store.(interface{ DB() *sql.DB }); ok {
		applied, err := ledger.AppliedMigrations(dbStore.DB(), ledger.DBDriver(cfg.DB.Driver))
		if err != nil {
			fmt.Fprintln(stderr, "migrations:", err)
			return 1
		}
		for _, m := range applied {
			fmt.Fprintf(stdout, "version=%s checksum=%s applied_at=%s\n", m.Version, m.Checksum, m.AppliedAt)
		}
	}
	fmt.Fprintf(stdout, "migrated driver=%s\n", cfg.DB.Driver)
	return 0
}

func handlePolicy(args []string, stdout io.Writer, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return 2
	}
	switch args[0] {
	case "lint":
		fs := flag.NewFlagSet("policy lint", flag.ContinueOnError)
		fs.SetOutput(stderr)
		if err := fs.Parse(args[1:]); err != nil {
			fs.Usage()
			return 2
		}
		if fs.NArg() != 1 {
			fmt.Fprintln(stderr, "policy lint requires <policy_path>")
			fs.Usage()
			return 2
		}
		loaded, err := policy.LoadPolicy(fs.Arg(0))
		if err != nil {
			fmt.Fprintln(stderr, err.Error())
			return 1
		}
		fmt.Fprintf(stdout, "ok policy_id=%s policy_version=%s policy_hash=%s\n", loaded.Policy.PolicyID, loaded.Policy.PolicyVersion, loaded.Hash)
		return 0
	default:
		usage(stderr)
		return 2
	}
}

// openConfiguredStore returns a nil store with an exit code when the store cannot be opened.
func openConfiguredStore(configPath string, stderr io.Writer) (ledger.Store, io.Closer, int) {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(stderr, "config:", err)
		return nil, nil, 1
	}
	if cfg.DB.Driver == "" {
		fmt.Fprintln(stderr, "db.driver is required to read persisted state")
		return nil, nil, 2
	}
	store, closer, err := bootstrap.OpenStore(cfg.DB)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return nil, nil, 1
	}
	return store, closer, 0
}

func httpGet(client *http.Client, url string, token string) ([]byte, int, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func envOrDefault(key string, fallback string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return fallback
}

func usage(w io.Writer) {
	fmt.Fprint(w, `Liqueflow CLI

Usage:
  liqueflow run [--config liqueflow.yaml] [--json] <instructions.json|instructions.csv>
  liqueflow verify [--addr URL] [--token TOKEN] [--json] [--config liqueflow.yaml] <artifact_id>
  liqueflow ledger --config liqueflow.yaml
  liqueflow migrate --config liqueflow.yaml
  liqueflow policy lint <policy_path>
`)
}
