package backend

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"dsac/internal/analysis"
	"dsac/internal/dfg"
	"dsac/internal/dfgtest"
	"dsac/internal/diag"
	"dsac/internal/emit"
)

const fakeScheduler = `#!/bin/sh
set -e
[ "$1" = "--dummy" ] || exit 3
[ "$2" = "-v" ] || exit 3
CFG="$3"
FILE="$4"
[ "$5" = "-e" ] || exit 3
[ "$6" = "0" ] || exit 3
[ -f "$CFG" ] || exit 4
grep -E '^(Input|Output)[0-9]*: ' "$FILE" | sed -E 's/^[A-Za-z]+[0-9]*: ([A-Za-z0-9_]+).*/\1/' > "$FILE.names"
n=0
while read name; do
  echo "#pragma port $name $n" >> "$FILE"
  n=$((n+1))
done < "$FILE.names"
echo "#pragma bitstream 4 deadbeef" >> "$FILE"
`

func emitText(t *testing.T, r *dfgtest.Region) (string, []*analysis.CoalMemoryInfo) {
	t.Helper()
	var cmis []*analysis.CoalMemoryInfo
	for _, g := range r.File.Graphs {
		cmis = append(cmis, analysis.Coalesce(g))
	}
	var buf bytes.Buffer
	if err := emit.File(&buf, r.File, cmis, emit.Options{}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	return buf.String(), cmis
}

func TestSubprocessRunsScheduler(t *testing.T) {
	requirePosix(t)
	tmp := t.TempDir()
	sched := writeScript(t, tmp, "ss_sched", fakeScheduler)
	cfg := filepath.Join(tmp, "hw.json")
	if err := os.WriteFile(cfg, []byte("{}"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	work := filepath.Join(tmp, "work")

	r := dfgtest.VecAdd(16, 1)
	text, cmis := emitText(t, r)
	s := NewSubprocess(Options{SchedulerPath: sched, ConfigLib: cfg, WorkDir: work})
	asg, err := s.Schedule(context.Background(), r.File.Name, text)
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if asg.Bitstream != "deadbeef" || asg.Size != 4 {
		t.Fatalf("unexpected bitstream %q/%d", asg.Bitstream, asg.Size)
	}
	if got := asg.Ports["sub0_v0_"]; got != 0 {
		t.Fatalf("input port = %d, want 0", got)
	}
	if got := asg.Ports["sub0_v2_"]; got != 1 {
		t.Fatalf("output port = %d, want 1", got)
	}
	if _, err := os.Stat(filepath.Join(work, r.File.Name)); err != nil {
		t.Fatalf("scheduled file not kept in work dir: %v", err)
	}
	if err := ApplyAssignment(r.File, cmis, asg); err != nil {
		t.Fatalf("ApplyAssignment: %v", err)
	}
	mp, _ := dfg.PortOf(r.Graph(0).Entries[0])
	if mp.SoftPortNum != 0 {
		t.Fatalf("soft port not applied: %d", mp.SoftPortNum)
	}
}

func TestSubprocessFailureCarriesCommandLine(t *testing.T) {
	requirePosix(t)
	tmp := t.TempDir()
	sched := writeScript(t, tmp, "ss_sched", "#!/bin/sh\necho 'no mapping found' >&2\nexit 2\n")
	s := NewSubprocess(Options{SchedulerPath: sched, ConfigLib: "/opt/hw.json"})
	_, err := s.Schedule(context.Background(), "f_dfg_0.dfg", "#pragma group unroll 1\n")
	if !errors.Is(err, diag.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	for _, want := range []string{"--dummy -v /opt/hw.json", "f_dfg_0.dfg -e 0", "no mapping found"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %q", err, want)
		}
	}
}

func TestSubprocessRequiresConfig(t *testing.T) {
	s := NewSubprocess(Options{SchedulerPath: "/bin/true"})
	if _, err := s.Schedule(context.Background(), "x.dfg", ""); !errors.Is(err, diag.ErrConfig) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	s = NewSubprocess(Options{SchedulerPath: "/does/not/exist", ConfigLib: "hw"})
	if _, err := s.Schedule(context.Background(), "x.dfg", ""); !errors.Is(err, diag.ErrConfig) {
		t.Fatalf("expected configuration error for a missing binary, got %v", err)
	}
}

func TestParseAssignment(t *testing.T) {
	text := `#pragma group unroll 2
Input32: ICluster_0_0_[4]
Output32: sub0_v3_[2]
#pragma port ICluster_0_0_ 3
#pragma port sub0_v3_ 1
#pragma bitstream 12 00ff00ff
`
	asg, err := ParseAssignment(strings.NewReader(text))
	if err != nil {
		t.Fatalf("ParseAssignment: %v", err)
	}
	if asg.Ports["ICluster_0_0_"] != 3 || asg.Ports["sub0_v3_"] != 1 {
		t.Fatalf("unexpected ports %v", asg.Ports)
	}
	if len(asg.Inputs) != 1 || len(asg.Outputs) != 1 {
		t.Fatalf("declarations not collected: %v %v", asg.Inputs, asg.Outputs)
	}

	bad := []string{
		"Input32: a\n#pragma port a\n#pragma bitstream 1 00\n",
		"#pragma port a x\n#pragma bitstream 1 00\n",
		"#pragma port a 1\n#pragma port a 2\n#pragma bitstream 1 00\n",
		"#pragma port a 1\n",
	}
	for _, in := range bad {
		if _, err := ParseAssignment(strings.NewReader(in)); !errors.Is(err, diag.ErrExternalTool) {
			t.Errorf("ParseAssignment(%q): expected tool error, got %v", in, err)
		}
	}
}

func TestDeterministicAssignsClusters(t *testing.T) {
	r := dfgtest.PairSum(2)
	text, cmis := emitText(t, r)
	asg, err := Deterministic{}.Schedule(context.Background(), r.File.Name, text)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	again, err := Deterministic{}.Schedule(context.Background(), r.File.Name, text)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if asg.Text != again.Text {
		t.Fatalf("deterministic scheduler is not deterministic")
	}
	if err := ApplyAssignment(r.File, cmis, asg); err != nil {
		t.Fatalf("ApplyAssignment: %v", err)
	}
	cmi := cmis[0]
	if cmi.ClusterPorts[cmi.Belong[0]] != 0 {
		t.Fatalf("cluster port = %d, want 0", cmi.ClusterPorts[cmi.Belong[0]])
	}
	for _, id := range []int{0, 1} {
		p, _ := dfg.PortOf(r.Graph(0).Entries[id])
		if p.SoftPortNum != 0 {
			t.Fatalf("member %d port = %d, want the shared port 0", id, p.SoftPortNum)
		}
	}
}

func TestApplyAssignmentRejectsInconsistentPorts(t *testing.T) {
	r := dfgtest.PairSum(1)
	_, cmis := emitText(t, r)
	missing := &Assignment{
		Ports:   map[string]int{},
		Inputs:  []string{"ICluster_0_0_"},
		Outputs: []string{"sub0_v3_"},
	}
	if err := ApplyAssignment(r.File, cmis, missing); !errors.Is(err, diag.ErrInternal) {
		t.Fatalf("expected internal error for a missing port, got %v", err)
	}

	g := dfgtest.Scale()
	_, cmis = emitText(t, g)
	shared := &Assignment{
		Ports:  map[string]int{"sub0_v0_": 2, "sub0_v1_": 2},
		Inputs: []string{"sub0_v0_", "sub0_v1_"},
	}
	if err := ApplyAssignment(g.File, cmis, shared); !errors.Is(err, diag.ErrInternal) {
		t.Fatalf("expected internal error for a shared port, got %v", err)
	}
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	if runtime.GOOS == "windows" {
		t.Skip("tests require a POSIX shell")
	}
	return path
}

func requirePosix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require a POSIX shell")
	}
}
