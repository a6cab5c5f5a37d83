package main

import (
	"bytes"
	"errors"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/tools/txtar"

	"dsac/internal/diag"
)

func description(name string) string {
	return filepath.Join("..", "..", "internal", "frontend", "testdata", name+".toml")
}

// scenarioRegion extracts the region description of a pipeline scenario.
func scenarioRegion(t *testing.T, name string) string {
	t.Helper()
	ar, err := txtar.ParseFile(filepath.Join("..", "..", "internal", "pipeline", "testdata", name+".txtar"))
	if err != nil {
		t.Fatalf("parse scenario: %v", err)
	}
	for _, f := range ar.Files {
		if f.Name == "region.toml" {
			return writeFile(t, t.TempDir(), name+".toml", string(f.Data))
		}
	}
	t.Fatalf("scenario %s has no region.toml", name)
	return ""
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestRunRejectsUnknownCommand(t *testing.T) {
	if err := run(nil, &bytes.Buffer{}); err == nil || err.Error() != "missing command" {
		t.Fatalf("expected missing command, got %v", err)
	}
	err := run([]string{"sim"}, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "unknown command: sim") {
		t.Fatalf("expected unknown command, got %v", err)
	}
}

func TestEmitPrintsRegion(t *testing.T) {
	var out bytes.Buffer
	if err := run([]string{"emit", description("gather")}, &out); err != nil {
		t.Fatalf("emit failed: %v", err)
	}
	text := out.String()
	if !strings.HasPrefix(text, "#pragma group unroll") {
		t.Fatalf("emit output lacks a graph header:\n%s", text)
	}
}

func TestEmitWritesOutputDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "dfgs")
	var out bytes.Buffer
	if err := run([]string{"emit", "-o", dir, description("vecadd")}, &out); err != nil {
		t.Fatalf("emit failed: %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("expected nothing on stdout, got:\n%s", out.String())
	}
	data, err := os.ReadFile(filepath.Join(dir, "vecadd_dfg_0.dfg"))
	if err != nil {
		t.Fatalf("read emitted file: %v", err)
	}
	if !strings.Contains(string(data), "Input32:") {
		t.Fatalf("unexpected DFG text:\n%s", data)
	}
}

func TestCompileWithBuiltinScheduler(t *testing.T) {
	t.Setenv("SBCONFIG", "hw.sbmodel")
	var out bytes.Buffer
	if err := run([]string{"compile", "-builtin-scheduler", "-pred=false", description("vecadd")}, &out); err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	text := out.String()
	for _, want := range []string{"ss_cfg bitstream=", "ss_lin_strm", "ss_wait_all"} {
		if !strings.Contains(text, want) {
			t.Fatalf("compiled function lacks %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "config.start") || strings.Contains(text, "config.end") {
		t.Fatalf("region markers survived compilation:\n%s", text)
	}
}

func TestCompileWritesOutputFile(t *testing.T) {
	t.Setenv("SBCONFIG", "hw.sbmodel")
	path := filepath.Join(t.TempDir(), "out", "reduce.ir")
	var out bytes.Buffer
	if err := run([]string{"compile", "-builtin-scheduler", "-pred=false", "-o", path, description("reduce")}, &out); err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !strings.Contains(string(data), "ss_recv") {
		t.Fatalf("reduce should receive its sum:\n%s", data)
	}
}

func TestCompileNeedsHardwareConfig(t *testing.T) {
	t.Setenv("SBCONFIG", "")
	err := run([]string{"compile", description("vecadd")}, &bytes.Buffer{})
	if err == nil || !errors.Is(err, diag.ErrConfig) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if !strings.Contains(err.Error(), "SBCONFIG") {
		t.Fatalf("error should name SBCONFIG: %v", err)
	}
}

func TestBuiltinSchedulerNeedsHardwareConfig(t *testing.T) {
	t.Setenv("SBCONFIG", "")
	err := run([]string{"compile", "-builtin-scheduler", description("vecadd")}, &bytes.Buffer{})
	if !errors.Is(err, diag.ErrConfig) || !strings.Contains(err.Error(), "SBCONFIG") {
		t.Fatalf("expected a configuration error naming SBCONFIG, got %v", err)
	}
}

func TestLintAcceptsFixtures(t *testing.T) {
	for _, name := range []string{"vecadd", "reduce", "gather", "guarded"} {
		t.Run(name, func(t *testing.T) {
			if err := run([]string{"lint", description(name)}, &bytes.Buffer{}); err != nil {
				t.Fatalf("lint failed: %v", err)
			}
		})
	}
}

func TestLintRejectsConflictingPredicates(t *testing.T) {
	path := scenarioRegion(t, "conflict")
	err := run([]string{"lint", "-diag-format", "json", path}, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "1 of 1 region(s)") {
		t.Fatalf("expected lint failure, got %v", err)
	}
}

func TestLintRejectsMalformedDescription(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.toml", "function = \"f\"\nbogus = 1\n")
	err := run([]string{"lint", path}, &bytes.Buffer{})
	if !errors.Is(err, diag.ErrInput) {
		t.Fatalf("expected ErrInput, got %v", err)
	}
}

func TestFeatureFlagsOverrideConfig(t *testing.T) {
	cfgPath := writeFile(t, t.TempDir(), "dsac.toml", "[features]\nfusion = true\ntemporal = true\n")
	t.Setenv("SBCONFIG", "hw.sbmodel")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	common := addCommonFlags(fs)
	if err := fs.Parse([]string{"-config", cfgPath, "-fusion=false", "x.toml"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	cfg, err := common.loadConfig(fs)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Features.Fusion {
		t.Fatalf("-fusion=false should override the file")
	}
	if !cfg.Features.Temporal {
		t.Fatalf("temporal from the file should survive unset flags")
	}
	if !cfg.Features.Pred {
		t.Fatalf("pred defaults to on")
	}
	if cfg.Scheduler.ConfigLib != "hw.sbmodel" {
		t.Fatalf("SBCONFIG not applied: %q", cfg.Scheduler.ConfigLib)
	}
}

func TestPrepareNeedsOneDescription(t *testing.T) {
	fs := flag.NewFlagSet("lint", flag.ContinueOnError)
	fs.SetOutput(&bytes.Buffer{})
	common := addCommonFlags(fs)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if _, err := prepare(fs, common); err == nil {
		t.Fatalf("expected an error without a description")
	}
}
