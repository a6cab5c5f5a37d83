package emit

import (
	"fmt"
	"strconv"
	"strings"

	"dsac/internal/dfg"
	"dsac/internal/diag"
)

// subLanes is the number of control values a stream can take.
const subLanes = 3

// controlBit accumulates the ctrl={...} clause of one operation: for each
// control value, the operand bits it enables and whether it abstains.
type controlBit struct {
	sub  [subLanes][]string
	pred *dfg.Predicate
}

// addControlledStream records operand idx when it is a memory-backed control
// stream. Every stream of one operation must share a predicate.
func (c *controlBit) addControlledStream(idx int, e dfg.Entry) error {
	cmp, ok := e.(*dfg.CtrlMemPort)
	if !ok {
		return nil
	}
	if cmp.Pred == nil {
		return fmt.Errorf("control stream %s has no predicate: %w", dfg.Name(cmp, -1), diag.ErrInternal)
	}
	if c.pred == nil {
		c.pred = cmp.Pred
	} else if c.pred != cmp.Pred {
		return fmt.Errorf("operation controlled by both %s and %s: %w",
			dfg.Name(c.pred, -1), dfg.Name(cmp.Pred, -1), diag.ErrInternal)
	}
	for j := 0; j < subLanes; j++ {
		if ^cmp.Mask>>j&1 == 1 {
			c.sub[j] = append(c.sub[j], "b"+strconv.Itoa(idx+1))
		}
	}
	return nil
}

// updateAbstain marks the control values in mask as abstaining. For an
// accumulator the remaining values are don't-care.
func (c *controlBit) updateAbstain(mask int, acc bool) {
	for j := 0; j < subLanes; j++ {
		switch {
		case mask>>j&1 == 1:
			c.sub[j] = append(c.sub[j], "a")
		case acc:
			c.sub[j] = append(c.sub[j], "d")
		}
	}
}

func (c *controlBit) empty() bool {
	for _, s := range c.sub {
		if len(s) != 0 {
			return false
		}
	}
	return true
}

func (c *controlBit) finalize() string {
	var parts []string
	for j, s := range c.sub {
		if len(s) != 0 {
			parts = append(parts, fmt.Sprintf("%d:%s", j, strings.Join(s, "|")))
		}
	}
	return strings.Join(parts, ", ")
}
