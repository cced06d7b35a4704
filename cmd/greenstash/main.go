package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/greenstash/greenstash/internal/batch"
	"github.com/greenstash/greenstash/internal/infrastructure/config"
	"github.com/greenstash/greenstash/internal/infrastructure/monitoring"
	"github.com/greenstash/greenstash/internal/ingest"
	"github.com/greenstash/greenstash/internal/logging"
	"github.com/greenstash/greenstash/internal/providers/archive"
	"github.com/greenstash/greenstash/internal/registry"
	"github.com/greenstash/greenstash/internal/shared/types"
)

func main() {
	var (
		configPath  = flag.String("config", "", "TOML settings file")
		installRoot = flag.String("install-root", "", "install root override")
		archiveDir  = flag.String("archive-dir", "", "archive directory override (relative to install root unless absolute)")
		listFlag    = flag.Bool("list", false, "reconcile and print the catalog")
		addPath     = flag.String("add", "", "ingest an archive ("+strings.Join(archive.SelectorExtensions(), ", ")+") or standalone executable")
		name        = flag.String("name", "", "name override for -add")
		override    = flag.Bool("override", false, "authorize replacing existing state during -add")
		batchFlag   = flag.Bool("batch", false, "batch-archive the install root")
		metricsAddr = flag.String("metrics-addr", "", "prometheus listen address (empty disables)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}
	if *installRoot != "" {
		cfg.Roots.InstallRoot = *installRoot
	}
	if *archiveDir != "" {
		cfg.Roots.ArchiveDir = *archiveDir
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Development = cfg.Logging.Development
	log, err := logging.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logging: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	metrics := monitoring.NewMetrics(prometheus.DefaultRegisterer)
	if *metricsAddr != "" {
		go func() {
			if err := http.ListenAndServe(*metricsAddr, promhttp.Handler()); err != nil {
				log.Warn("metrics listener stopped", zap.Error(err))
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := registry.NewStore(cfg.ArchiveRoot(), cfg.Registry.LockWait, log, metrics)
	inspector := archive.NewInspector(log, metrics)
	notify := func(message string) { fmt.Fprintln(os.Stderr, message) }
	workflow := ingest.NewWorkflow(cfg, store, inspector, log, metrics, notify)
	archiver := batch.New(cfg, store, inspector, log, metrics)

	switch {
	case *listFlag:
		err = runList(ctx, store, cfg, metrics)
	case *addPath != "":
		err = runAdd(ctx, workflow, *addPath, ingest.AddOptions{Name: *name, Override: *override})
	case *batchFlag:
		err = runBatch(ctx, archiver)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Error("operation failed", zap.Error(err))
		os.Exit(1)
	}
}

func runList(ctx context.Context, store *registry.Store, cfg *config.Config, metrics *monitoring.Metrics) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	entries, err := store.Reconcile(ctx, cfg.InstallRoot())
	if err != nil {
		return err
	}

	managed := 0
	for _, e := range entries {
		switch e.Status {
		case types.StatusManaged:
			managed++
			marker := " "
			if !e.InstallExists {
				marker = "!"
			}
			fmt.Printf("%s %3d  %-30s  %s\n", marker, e.SortOrder, e.Name, e.ExecutablePath)
			if e.IsBackupArchive {
				fmt.Printf("       %-30s  backup: %s\n", "", e.BackupPath)
			}
		case types.StatusUnknownInstall:
			fmt.Printf("?      %-30s  unmanaged install: %s\n", e.Name, e.InstallPath)
		case types.StatusUnknownArchive:
			fmt.Printf("?      %-30s  unmanaged archive: %s\n", e.Name, e.ArchivePath)
		}
	}
	metrics.EntriesManaged.Set(float64(managed))
	return nil
}

// runAdd drives the ingestion state machine, resolving pending decisions
// interactively on stdin.
func runAdd(ctx context.Context, workflow *ingest.Workflow, source string, opts ingest.AddOptions) error {
	result := workflow.Add(ctx, source, opts)
	for {
		switch result.Status {
		case types.AddedOK:
			fmt.Printf("added %s (%s)\n", result.Entry.Name, result.Entry.ExecutablePath)
			return nil

		case types.AddCancelled:
			fmt.Println("cancelled")
			return nil

		case types.NeedsSelection:
			choice, ok := promptSelection(result.Pending.ExecutablePaths)
			if !ok {
				result = workflow.CancelPending(ctx, result.Pending)
				continue
			}
			result = workflow.CompleteSelection(ctx, result.Pending, choice)

		case types.IsDuplicate:
			dup := result.Duplicate
			fmt.Printf("duplicate: %s\n", dup.Name)
			if dup.InstallExists {
				fmt.Printf("  install exists: %s\n", dup.TargetInstallPath)
			}
			if dup.ArchiveExists {
				fmt.Printf("  archive exists: %s\n", dup.TargetArchivePath)
			}
			if dup.Conflicting != nil {
				fmt.Printf("  conflicts with entry %s\n", dup.Conflicting.ID)
			}
			return fmt.Errorf("refusing to replace existing state; re-run with -override or -name")

		default:
			return result.Err
		}
	}
}

// promptSelection asks the user to pick one executable by number. An
// empty line cancels.
func promptSelection(candidates []string) (string, bool) {
	fmt.Println("multiple executables found:")
	for i, c := range candidates {
		fmt.Printf("  [%d] %s\n", i+1, c)
	}
	fmt.Print("choice (empty cancels): ")

	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return "", false
	}
	text := strings.TrimSpace(scanner.Text())
	if text == "" {
		return "", false
	}
	n, err := strconv.Atoi(text)
	if err != nil || n < 1 || n > len(candidates) {
		fmt.Fprintf(os.Stderr, "invalid choice %q\n", text)
		return "", false
	}
	return candidates[n-1], true
}

func runBatch(ctx context.Context, archiver *batch.Archiver) error {
	result, err := archiver.Run(ctx, func(done, total int, name string) {
		fmt.Printf("[%d/%d] %s\n", done, total, name)
	})
	if err != nil {
		return err
	}

	fmt.Printf("processed %d directories, %d backed up, %d registered\n",
		result.Processed, len(result.BackedUp), len(result.Registered))
	for _, s := range result.Suggestions {
		fmt.Printf("suggestion for %s:\n", s.Name)
		for _, c := range s.Candidates {
			fmt.Printf("  %s\n", c)
		}
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
	return nil
}
