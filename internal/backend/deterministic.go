package backend

import (
	"bufio"
	"context"
	"fmt"
	"hash/fnv"
	"strings"
)

// Deterministic is an offline scheduler: it numbers the declared ports of
// every graph in declaration order, inputs and outputs separately, and
// derives a stable bitstream from the text.
type Deterministic struct{}

// Schedule implements Scheduler.
func (Deterministic) Schedule(ctx context.Context, name, text string) (*Assignment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out strings.Builder
	out.WriteString(text)
	if !strings.HasSuffix(text, "\n") && text != "" {
		out.WriteByte('\n')
	}
	nextIn, nextOut := 0, 0
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "----" {
			nextIn, nextOut = 0, 0
			continue
		}
		m := declRE.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if m[1] == "Input" {
			fmt.Fprintf(&out, "#pragma port %s %d\n", m[2], nextIn)
			nextIn++
		} else {
			fmt.Fprintf(&out, "#pragma port %s %d\n", m[2], nextOut)
			nextOut++
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	h := fnv.New64a()
	h.Write([]byte(text))
	fmt.Fprintf(&out, "#pragma bitstream %d %016x\n", len(text), h.Sum64())

	asg, err := ParseAssignment(strings.NewReader(out.String()))
	if err != nil {
		return nil, fmt.Errorf("backend: %s: %w", name, err)
	}
	asg.Text = out.String()
	return asg, nil
}
