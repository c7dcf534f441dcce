// Command breath-infer estimates breath-sample compositions from sensor
// array masses by iterative Bayesian grid refinement.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/banshee-data/breath.report/internal/batch"
	"github.com/banshee-data/breath.report/internal/config"
	"github.com/banshee-data/breath.report/internal/inference"
	"github.com/banshee-data/breath.report/internal/monitoring"
	"github.com/banshee-data/breath.report/internal/report"
	"github.com/banshee-data/breath.report/internal/store"
	"github.com/banshee-data/breath.report/internal/version"
)

// gridFlags collects repeated -grid GAS=lo:hi:step overrides.
type gridFlags []config.GridOverride

func (g *gridFlags) String() string {
	parts := make([]string, len(*g))
	for i, o := range *g {
		parts[i] = fmt.Sprintf("%s=%g:%g:%g", o.Gas, o.Lower, o.Upper, o.Spacing)
	}
	return strings.Join(parts, ",")
}

func (g *gridFlags) Set(s string) error {
	o, err := config.ParseGridOverride(s)
	if err != nil {
		return err
	}
	*g = append(*g, o)
	return nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func main() {
	configPath := flag.String("config", config.DefaultConfigPath, "Run configuration file (.json, .yaml)")
	henryPath := flag.String("henry", "", "Henry's coefficient table (overrides config)")
	samplesPath := flag.String("samples", "", "Breath samples file, .json or .tsv (overrides config)")
	materials := flag.String("materials", "", "Comma-separated materials forming the array (overrides config)")
	dbPath := flag.String("db", "", "SQLite results database; empty disables persistence (overrides config)")
	outDir := flag.String("out", "", "Results directory (overrides config)")
	workers := flag.Int("workers", -1, "Likelihood workers, 0 for GOMAXPROCS (overrides config)")
	limit := flag.Int("limit", 0, "Process at most this many samples (0 uses num_samples_to_test)")
	plots := flag.Bool("plots", false, "Write PNG range and prediction plots")
	verbose := flag.Bool("verbose", false, "Log every refinement cycle")
	showVersion := flag.Bool("version", false, "Print version and exit")
	var grids gridFlags
	flag.Var(&grids, "grid", "Seed grid override GAS=lo:hi:step (repeatable)")
	flag.Parse()

	if *showVersion {
		fmt.Println("breath-infer", version.String())
		return
	}
	monitoring.SetVerbose(*verbose)

	cfg, err := config.LoadRunConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *henryPath != "" {
		cfg.HenrysDataPath = henryPath
	}
	if *samplesPath != "" {
		cfg.BreathSamplesPath = samplesPath
	}
	if list := splitList(*materials); len(list) > 0 {
		cfg.Array = list
	}
	if *dbPath != "" {
		cfg.DBPath = dbPath
	}
	if *outDir != "" {
		cfg.ResultsPath = outDir
	}
	if *workers >= 0 {
		cfg.Workers = workers
	}
	if err := cfg.ApplyGridOverrides(grids...); err != nil {
		log.Fatalf("invalid -grid: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = runBatch(ctx, cfg, *limit, *plots)
	stop()
	if err != nil {
		log.Fatalf("batch stopped: %v", err)
	}
}

// runBatch runs every sample of cfg. The results database is closed before
// it returns, including on failure.
func runBatch(ctx context.Context, cfg *config.RunConfig, limit int, plots bool) error {
	writer, err := report.NewWriter(cfg.GetResultsPath(), plots)
	if err != nil {
		return fmt.Errorf("failed to prepare results directory: %w", err)
	}
	opts := []batch.Option{batch.WithWriter(writer), batch.WithVersion(version.Version)}

	if p := cfg.GetDBPath(); p != "" {
		db, err := store.Open(p)
		if err != nil {
			return fmt.Errorf("failed to open results database: %w", err)
		}
		defer func() {
			if err := db.Close(); err != nil {
				log.Printf("failed to close results database: %v", err)
			}
		}()
		opts = append(opts, batch.WithStore(db))
	}

	runner, err := batch.NewRunner(cfg, opts...)
	if err != nil {
		return fmt.Errorf("failed to set up run: %w", err)
	}
	samples, err := runner.LoadSamples(limit)
	if err != nil {
		return fmt.Errorf("failed to load samples: %w", err)
	}

	log.Printf("breath-infer %s: %d samples, array %v", version.Version, len(samples), runner.Array().IDs())
	sum, err := runner.Run(ctx, samples)
	if sum != nil {
		printCounts(sum)
	}
	if err != nil {
		return err
	}
	log.Printf("results written to %s", writer.Dir())
	return nil
}

func printCounts(sum *batch.Summary) {
	reasons := make([]string, 0, len(sum.Counts))
	for r := range sum.Counts {
		reasons = append(reasons, string(r))
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		log.Printf("  %-34s %d", r, sum.Counts[inference.ExitReason(r)])
	}
	if sum.RunID != "" {
		log.Printf("run id %s", sum.RunID)
	}
}
