package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/tebeka/atexit"
	"go.uber.org/zap"

	"dsac/internal/analysis"
	"dsac/internal/backend"
	"dsac/internal/config"
	"dsac/internal/diag"
	"dsac/internal/frontend"
	"dsac/internal/ir"
	"dsac/internal/passes"
	"dsac/internal/pipeline"
	"dsac/internal/validate"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		atexit.Exit(1)
	}
	atexit.Exit(0)
}

func run(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		printGlobalUsage()
		return fmt.Errorf("missing command")
	}

	switch args[0] {
	case "emit":
		return runEmit(args[1:], stdout)
	case "compile":
		return runCompile(args[1:], stdout)
	case "lint":
		return runLint(args[1:])
	default:
		printGlobalUsage()
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func printGlobalUsage() {
	fmt.Fprintf(os.Stderr, "dsac: dataflow offload for stream-dataflow accelerators\n\n")
	fmt.Fprintf(os.Stderr, "Usage:\n")
	fmt.Fprintf(os.Stderr, "  dsac <command> [options] <region.toml>\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  emit       Print the DFG text of every region\n")
	fmt.Fprintf(os.Stderr, "  compile    Schedule every region and print the rewritten host function\n")
	fmt.Fprintf(os.Stderr, "  lint       Check regions without scheduling them\n")
}

// commonFlags are shared by every command.
type commonFlags struct {
	configPath string
	diagFormat string
	debug      bool
	features   map[string]*bool
}

func addCommonFlags(fs *flag.FlagSet) *commonFlags {
	c := &commonFlags{features: make(map[string]*bool)}
	fs.StringVar(&c.configPath, "config", "", "path to a TOML configuration file (optional)")
	fs.StringVar(&c.diagFormat, "diag-format", "text", "diagnostic output format (text|json)")
	fs.BoolVar(&c.debug, "debug", false, "log every compilation step to stderr")
	c.features["pred"] = fs.Bool("pred", true, "lower predicated operations")
	c.features["ind"] = fs.Bool("ind", true, "lower indirect memory accesses")
	c.features["temporal"] = fs.Bool("temporal", false, "keep temporal regions")
	c.features["trigger"] = fs.Bool("trigger", false, "emit trigger instructions (needs -temporal)")
	c.features["fusion"] = fs.Bool("fusion", false, "fuse register writes")
	return c
}

// loadConfig reads the configuration file, then the environment, then the
// feature flags given explicitly on the command line.
func (c *commonFlags) loadConfig(fs *flag.FlagSet) (*config.Config, error) {
	cfg := config.Default()
	if c.configPath != "" {
		loaded, err := config.Load(c.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.ApplyEnv(os.Getenv)
	fs.Visit(func(f *flag.Flag) {
		v, ok := c.features[f.Name]
		if !ok {
			return
		}
		switch f.Name {
		case "pred":
			cfg.Features.Pred = *v
		case "ind":
			cfg.Features.Ind = *v
		case "temporal":
			cfg.Features.Temporal = *v
		case "trigger":
			cfg.Features.Trigger = *v
		case "fusion":
			cfg.Features.Fusion = *v
		}
	})
	return cfg, nil
}

func (c *commonFlags) logger() (*zap.Logger, error) {
	if !c.debug {
		return zap.NewNop(), nil
	}
	log, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	atexit.Register(func() { _ = log.Sync() })
	return log, nil
}

type session struct {
	cfg      *config.Config
	log      *zap.Logger
	reporter *diag.Reporter
	module   *frontend.Module
}

func prepare(fs *flag.FlagSet, c *commonFlags) (*session, error) {
	if fs.NArg() != 1 {
		fs.Usage()
		return nil, fmt.Errorf("%s requires exactly one region description", fs.Name())
	}
	cfg, err := c.loadConfig(fs)
	if err != nil {
		return nil, err
	}
	log, err := c.logger()
	if err != nil {
		return nil, err
	}
	reporter := diag.NewReporter(os.Stderr, c.diagFormat)
	m, err := frontend.Load(fs.Arg(0), reporter)
	if err != nil {
		return nil, err
	}
	log.Debug("loaded description",
		zap.String("path", fs.Arg(0)),
		zap.String("function", m.Fn.Name),
		zap.Int("regions", len(m.Files)))
	return &session{cfg: cfg, log: log, reporter: reporter, module: m}, nil
}

func runEmit(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("emit", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	common := addCommonFlags(fs)
	output := fs.String("o", "", "directory receiving one .dfg file per region (stdout when omitted)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := prepare(fs, common)
	if err != nil {
		return err
	}
	s.cfg.Features.Extract = true
	if *output != "" {
		s.cfg.OutputDir = *output
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	res, err := pipeline.Run(ctx, s.module.Fn, s.module.Files, pipeline.Options{
		Config:   s.cfg,
		Reporter: s.reporter,
		Logger:   s.log,
	})
	if err != nil {
		return err
	}
	if s.cfg.OutputDir != "" {
		for _, r := range res.Regions {
			fmt.Fprintln(os.Stderr, "wrote", filepath.Join(s.cfg.OutputDir, r.File.Name))
		}
		return nil
	}
	for _, r := range res.Regions {
		if _, err := io.WriteString(stdout, r.Text); err != nil {
			return err
		}
	}
	return nil
}

func runCompile(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("compile", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	common := addCommonFlags(fs)
	output := fs.String("o", "", "output file for the rewritten host function (stdout when omitted)")
	workDir := fs.String("work-dir", "", "directory receiving the scheduled .dfg files (optional)")
	scheduler := fs.String("scheduler", "", "path to ss_sched (optional, falls back to PATH lookup)")
	builtin := fs.Bool("builtin-scheduler", false, "number ports in declaration order instead of running ss_sched")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := prepare(fs, common)
	if err != nil {
		return err
	}
	s.cfg.Features.Extract = false
	if *workDir != "" {
		s.cfg.OutputDir = *workDir
	}
	if *scheduler != "" {
		s.cfg.Scheduler.Path = *scheduler
	}
	opts := pipeline.Options{Config: s.cfg, Reporter: s.reporter, Logger: s.log}
	if *builtin {
		opts.Scheduler = backend.Deterministic{}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	res, err := pipeline.Run(ctx, s.module.Fn, s.module.Files, opts)
	if err != nil {
		return err
	}
	for _, r := range res.Regions {
		s.log.Debug("lowered region",
			zap.String("region", r.File.Name),
			zap.Int("calls", len(r.Plan.Calls())))
	}

	var buf bytes.Buffer
	ir.Dump(s.module.Fn, &buf)
	if *output == "" || *output == "-" {
		_, err := stdout.Write(buf.Bytes())
		return err
	}
	if err := os.MkdirAll(filepath.Dir(*output), 0o755); err != nil {
		return err
	}
	return os.WriteFile(*output, buf.Bytes(), 0o644)
}

func runLint(args []string) error {
	fs := flag.NewFlagSet("lint", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	common := addCommonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := prepare(fs, common)
	if err != nil {
		return err
	}
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	pm := passes.NewManager(s.log,
		passes.NewWidthCheck(s.reporter),
		passes.NewPredicateCheck(s.reporter),
		passes.NewDimensionCheck(s.reporter),
	)
	failed := 0
	for _, f := range s.module.Files {
		if err := validate.CheckFile(f, s.reporter); err != nil {
			failed++
			continue
		}
		bad := false
		for _, g := range f.Graphs {
			if _, err := analysis.AnalyzeLoops(g); err != nil {
				s.reporter.Error(fmt.Sprintf("%s/DFG%d", f.Name, g.ID), err.Error())
				bad = true
			}
		}
		if err := pm.Run(f); err != nil {
			s.log.Debug("checks failed", zap.String("region", f.Name), zap.Error(err))
			bad = true
		}
		if bad {
			failed++
		}
	}
	if failed > 0 || s.reporter.HasErrors() {
		return fmt.Errorf("lint found problems in %d of %d region(s)", failed, len(s.module.Files))
	}
	return nil
}
