package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nextconvert/compositor/internal/modules/jobs"
	"github.com/nextconvert/compositor/internal/modules/render"
	"github.com/nextconvert/compositor/internal/shared/metrics"
	"github.com/nextconvert/compositor/internal/shared/storage"
	"github.com/spf13/cobra"
)

type renderOptions struct {
	concurrency int
	outputDir   string
	platformID  string
	dryRun      bool
	publish     bool
	jsonOutput  bool
}

func newRenderCommand(ctx *commandContext) *cobra.Command {
	var opts renderOptions

	cmd := &cobra.Command{
		Use:   "render <composition>...",
		Short: "Render one or more composition files",
		Long: "Render one or more composition files (JSON or YAML). Several files run as a\n" +
			"batch; a failed render never stops the others.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(cmd, ctx, opts, args)
		},
	}

	cmd.Flags().IntVarP(&opts.concurrency, "concurrency", "j", 0, "Renders in flight at once (default BATCH_CONCURRENCY)")
	cmd.Flags().StringVarP(&opts.outputDir, "output-dir", "o", "", "Directory for finished renders (default OUTPUT_ROOT)")
	cmd.Flags().StringVarP(&opts.platformID, "platform", "p", "", "Override every composition's platform")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Build graphs and fetch assets but write placeholder output instead of encoding")
	cmd.Flags().BoolVar(&opts.publish, "publish", false, "Upload finished renders to storage")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Print job snapshots as JSON")
	return cmd
}

func runRender(cmd *cobra.Command, ctx *commandContext, opts renderOptions, files []string) error {
	cfg := ctx.config.Render
	if opts.outputDir != "" {
		cfg.OutputRoot = opts.outputDir
	}
	if opts.publish {
		cfg.Publish = true
	}
	concurrency := opts.concurrency
	if concurrency <= 0 {
		concurrency = cfg.BatchConcurrency
	}
	if err := jobs.CheckBatchSize(len(files), cfg.BatchMaxJobs); err != nil {
		return err
	}

	// Storage serves storage:// sources and publishing. A local store is
	// only opened when it already exists so plain renders leave no trace.
	var store *storage.Service
	if cfg.Publish || ctx.config.Storage.Backend == "s3" || dirExists(ctx.config.Storage.BasePath) {
		s, err := storage.NewService(ctx.config.Storage)
		if err != nil {
			return err
		}
		store = s
	}

	m := metrics.NewNop()
	renderer, _, err := render.NewFromConfig(cfg, render.SetupOptions{
		Registry: ctx.registry,
		Storage:  store,
		DryRun:   opts.dryRun,
		Logger:   ctx.logger,
		Metrics:  m,
	})
	if err != nil {
		return err
	}

	statuses := jobs.NewMemoryStore()
	progress := newProgressPrinter(cmd.ErrOrStderr(), !opts.jsonOutput)
	orchestrator := jobs.NewOrchestrator(renderer, ctx.logger, m, statuses, progress)

	all := make([]*jobs.RenderJob, len(files))
	var runnable []*jobs.RenderJob
	for i, file := range files {
		comp, err := loadComposition(file, opts.platformID)
		job := jobs.NewRenderJob(jobID(file, i), comp)
		all[i] = job
		if err != nil {
			orchestrator.Reject(cmd.Context(), job, err)
			continue
		}
		runnable = append(runnable, job)
	}

	orchestrator.RunBatch(cmd.Context(), runnable, concurrency)

	out := cmd.OutOrStdout()
	if opts.jsonOutput {
		snaps := make([]jobs.Snapshot, len(all))
		for i, job := range all {
			snaps[i] = job.Snapshot()
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(snaps); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(out, renderTable(
			[]string{"Job", "Source", "Platform", "Status", "Length", "Output"},
			resultRows(all, files),
			[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
		))
	}

	summary := jobs.Summarize(all)
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d renders failed", summary.Failed, summary.Total)
	}
	return nil
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// jobID derives a readable, unique id from the file name.
func jobID(file string, index int) string {
	base := filepath.Base(file)
	name := base[:len(base)-len(filepath.Ext(base))]
	return fmt.Sprintf("%02d-%s", index+1, name)
}

func resultRows(all []*jobs.RenderJob, files []string) [][]string {
	rows := make([][]string, len(all))
	for i, job := range all {
		snap := job.Snapshot()
		length := ""
		if snap.Duration > 0 {
			length = fmt.Sprintf("%.1fs", snap.Duration)
		}
		detail := snap.OutputPath
		if snap.OutputURL != "" {
			detail = snap.OutputURL
		}
		if snap.Error != nil {
			detail = fmt.Sprintf("%s: %s", snap.Error.Kind, snap.Error.Message)
		}
		rows[i] = []string{snap.ID, filepath.Base(files[i]), snap.Platform, string(snap.Status), length, detail}
	}
	return rows
}

// progressPrinter writes one line per status change and per 10% of
// progress.
type progressPrinter struct {
	mu      sync.Mutex
	w       io.Writer
	enabled bool
	last    map[string]int
	start   time.Time
}

func newProgressPrinter(w io.Writer, enabled bool) *progressPrinter {
	return &progressPrinter{w: w, enabled: enabled, last: make(map[string]int), start: time.Now()}
}

func (p *progressPrinter) Notify(ctx context.Context, event jobs.Event, snap jobs.Snapshot) error {
	if !p.enabled {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	elapsed := time.Since(p.start).Truncate(100 * time.Millisecond)
	switch event {
	case jobs.EventStatus:
		line := fmt.Sprintf("[%s] %s %s", elapsed, snap.ID, snap.Status)
		if snap.Error != nil {
			line += fmt.Sprintf(" (%s)", snap.Error.Kind)
		}
		fmt.Fprintln(p.w, line)
	case jobs.EventProgress:
		step := snap.Progress.Percent / 10
		if step <= p.last[snap.ID] {
			return nil
		}
		p.last[snap.ID] = step
		fmt.Fprintf(p.w, "[%s] %s %s %d%%\n", elapsed, snap.ID, snap.Progress.Stage, snap.Progress.Percent)
	}
	return nil
}
