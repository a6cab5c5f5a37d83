package dfg

import (
	"fmt"
	"strconv"
)

// DataClass names where a port's data comes from or goes to.
type DataClass int

const (
	DataUnknown DataClass = iota
	DataMemory
	DataSpad
	DataLocalPort
	DataRemotePort
)

var dataText = [...]string{"", "memory", "spad", "localport", "remoteport"}

func (d DataClass) String() string { return dataText[d] }

// MetaOp is one operation hint bit.
type MetaOp int

const (
	MetaRead MetaOp = iota
	MetaWrite
	MetaIndRead
	MetaIndWrite
	MetaAtomic
	metaOpCount
)

var metaOpText = [...]string{"read", "write", "indread", "indwrite", "atomic"}

// MetaPort carries the port pragmas handed to the scheduler.
type MetaPort struct {
	Source   DataClass
	Dest     DataClass
	DestPort string
	Ops      uint
	Conc     int
	Cmd      string
	Repeat   string
}

// Set updates one pragma by key. A "dest" value that is not a data class
// names the destination port.
func (m *MetaPort) Set(key, value string) error {
	switch key {
	case "src":
		d, ok := parseDataClass(value)
		if !ok {
			return fmt.Errorf("dfg: unknown source class %q", value)
		}
		m.Source = d
	case "dest":
		if d, ok := parseDataClass(value); ok {
			m.Dest = d
			return nil
		}
		m.DestPort = value
	case "op":
		for i, name := range metaOpText {
			if name == value {
				m.Ops |= 1 << uint(i)
				return nil
			}
		}
		return fmt.Errorf("dfg: unknown operation hint %q", value)
	case "conc":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("dfg: bad concurrency hint %q: %w", value, err)
		}
		m.Conc = n
	case "cmd":
		m.Cmd = value
	case "repeat":
		m.Repeat = value
	default:
		return fmt.Errorf("dfg: unknown pragma %q", key)
	}
	return nil
}

// Has reports whether operation hint op is set.
func (m MetaPort) Has(op MetaOp) bool { return m.Ops>>uint(op)&1 == 1 }

// Pragmas renders the pragma lines in emission order. Input ports always
// carry a command code and repeat count.
func (m MetaPort) Pragmas(input bool) []string {
	var lines []string
	if m.Source != DataUnknown {
		lines = append(lines, "#pragma src="+m.Source.String())
	}
	if m.Dest != DataUnknown {
		lines = append(lines, "#pragma dest="+m.Dest.String())
	}
	if m.DestPort != "" {
		lines = append(lines, "#pragma dest="+m.DestPort)
	}
	for i := MetaOp(0); i < metaOpCount; i++ {
		if m.Has(i) {
			lines = append(lines, "#pragma op="+metaOpText[i])
		}
	}
	if m.Conc != 0 {
		lines = append(lines, fmt.Sprintf("#pragma conc=%d", m.Conc))
	}
	if input {
		lines = append(lines, "#pragma cmd="+orDefault(m.Cmd, "0x1"))
		lines = append(lines, "#pragma repeat="+orDefault(m.Repeat, "1"))
	}
	return lines
}

func parseDataClass(s string) (DataClass, bool) {
	for i, name := range dataText {
		if i != 0 && name == s {
			return DataClass(i), true
		}
	}
	return DataUnknown, false
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
