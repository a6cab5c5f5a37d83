// Package pipeline drives the compilation of one host function: every
// region is analysed, emitted as DFG text, scheduled, checked, and finally
// replaced by accelerator configuration calls.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"dsac/internal/analysis"
	"dsac/internal/backend"
	"dsac/internal/config"
	"dsac/internal/dfg"
	"dsac/internal/diag"
	"dsac/internal/emit"
	"dsac/internal/ir"
	"dsac/internal/passes"
	"dsac/internal/validate"
	"dsac/internal/xform"
)

// Options carries the collaborators of a run.
type Options struct {
	Config *config.Config
	// Scheduler maps emitted text to ports. Nil builds the external
	// scheduler from Config.
	Scheduler backend.Scheduler
	Reporter  *diag.Reporter
	Logger    *zap.Logger
}

// Region is the outcome for one region.
type Region struct {
	File *dfg.File
	// Text is the emitted DFG, before scheduling.
	Text string
	// Assignment and Plan stay nil when only extracting.
	Assignment *backend.Assignment
	Plan       *xform.Plan
}

// Result lists the regions in the order they were given.
type Result struct {
	Regions []*Region
}

// Run compiles files, the regions of fn. Everything that can fail for a
// region is checked before fn is modified for it; a failure stops the run
// and leaves earlier regions rewritten.
func Run(ctx context.Context, fn *ir.Function, files []*dfg.File, opts Options) (*Result, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	rep := opts.Reporter
	if rep == nil {
		rep = diag.NewReporter(nil, "text")
	}
	for _, f := range files {
		if f.Fn != fn {
			return nil, fmt.Errorf("pipeline: %s was not extracted from %s: %w", f.Name, fn.Name, diag.ErrInternal)
		}
	}

	if !cfg.Features.Extract && cfg.Scheduler.ConfigLib == "" {
		return nil, fmt.Errorf("pipeline: no hardware configuration (set SBCONFIG or scheduler.config_lib): %w", diag.ErrConfig)
	}

	if !cfg.Features.Temporal {
		eliminateTemporal(fn, files)
	}
	res := &Result{}
	if len(files) == 0 {
		return res, nil
	}

	d := &driver{cfg: cfg, rep: rep, log: log.With(zap.String("function", fn.Name)), sched: opts.Scheduler}
	if !cfg.Features.Extract {
		if d.sched == nil {
			s, err := NewScheduler(cfg, log)
			if err != nil {
				return nil, err
			}
			d.sched = s
		}
		d.regs = xform.NewRegisterFile(fn, cfg.Features.Fusion)
	}
	for _, f := range files {
		r, err := d.region(ctx, f)
		if r != nil {
			res.Regions = append(res.Regions, r)
		}
		if err != nil {
			return res, fmt.Errorf("pipeline: %s: %w", f.Name, err)
		}
	}
	return res, nil
}

// NewScheduler builds the external scheduler described by cfg. The
// emitted files land in cfg.OutputDir when it is set.
func NewScheduler(cfg *config.Config, log *zap.Logger) (*backend.Subprocess, error) {
	timeout, err := cfg.Timeout()
	if err != nil {
		return nil, err
	}
	return backend.NewSubprocess(backend.Options{
		SchedulerPath: cfg.Scheduler.Path,
		ConfigLib:     cfg.Scheduler.ConfigLib,
		WorkDir:       cfg.OutputDir,
		Timeout:       timeout,
		Logger:        log,
	}), nil
}

// eliminateTemporal drops temporal markers and schedules temporal graphs
// as dedicated ones.
func eliminateTemporal(fn *ir.Function, files []*dfg.File) {
	fn.Erase(fn.Markers(ir.OpTemporalStart)...)
	fn.Erase(fn.Markers(ir.OpTemporalEnd)...)
	for _, f := range files {
		for _, g := range f.Graphs {
			g.Kind = dfg.Dedicated
		}
	}
}

type driver struct {
	cfg   *config.Config
	rep   *diag.Reporter
	log   *zap.Logger
	sched backend.Scheduler
	regs  *xform.RegisterFile
}

func (d *driver) region(ctx context.Context, f *dfg.File) (*Region, error) {
	log := d.log.With(zap.String("region", f.Name))
	if err := validate.CheckFile(f, d.rep); err != nil {
		return nil, err
	}

	lis := make([]*analysis.LoopInfo, len(f.Graphs))
	cmis := make([]*analysis.CoalMemoryInfo, len(f.Graphs))
	for i, g := range f.Graphs {
		li, err := analysis.AnalyzeLoops(g)
		if err != nil {
			return nil, err
		}
		lis[i] = li
		cmis[i] = analysis.Coalesce(g)
	}

	var buf bytes.Buffer
	opts := emit.Options{Pred: d.cfg.Features.Pred, Temporal: d.cfg.Features.Temporal, Trigger: d.cfg.Features.Trigger}
	if err := emit.File(&buf, f, cmis, opts); err != nil {
		return nil, err
	}
	r := &Region{File: f, Text: buf.String()}
	log.Debug("emitted region", zap.Int("graphs", len(f.Graphs)), zap.Int("bytes", buf.Len()))

	if d.cfg.Features.Extract {
		if d.cfg.OutputDir != "" {
			if err := os.MkdirAll(d.cfg.OutputDir, 0o755); err != nil {
				return r, fmt.Errorf("create output dir: %w", err)
			}
			if err := os.WriteFile(filepath.Join(d.cfg.OutputDir, f.Name), buf.Bytes(), 0o644); err != nil {
				return r, fmt.Errorf("write %s: %w", f.Name, err)
			}
		}
		return r, nil
	}

	asg, err := d.sched.Schedule(ctx, f.Name, r.Text)
	if err != nil {
		return r, err
	}
	r.Assignment = asg
	if err := backend.ApplyAssignment(f, cmis, asg); err != nil {
		return r, err
	}
	pm := passes.NewManager(log,
		passes.NewWidthCheck(d.rep),
		passes.NewPredicateCheck(d.rep),
		passes.NewDimensionCheck(d.rep),
	)
	if err := pm.Run(f); err != nil {
		return r, err
	}

	in, err := xform.NewInjector(f, d.regs, xform.Options{Pred: d.cfg.Features.Pred, Ind: d.cfg.Features.Ind}, log, d.rep)
	if err != nil {
		return r, err
	}
	in.InjectConfiguration(asg)
	if err := in.InjectFile(lis, cmis); err != nil {
		return r, err
	}
	r.Plan = in.Plan()

	// Nothing below can be undone.
	if err := r.Plan.Apply(f.Fn); err != nil {
		return r, err
	}
	f.Fn.Erase(f.Start, f.End)
	log.Debug("rewrote region", zap.Int("calls", len(r.Plan.Calls())), zap.Int("offloaded", len(f.OffloadedInstructions())))
	return r, nil
}
