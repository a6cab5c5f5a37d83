package frontend

// description is the TOML form of one host function and the regions
// extracted from it.
type description struct {
	Function string       `toml:"function"`
	Params   []paramDesc  `toml:"param"`
	Body     []instDesc   `toml:"inst"`
	Regions  []regionDesc `toml:"region"`
}

type paramDesc struct {
	Name string `toml:"name"`
	Type string `toml:"type"`
}

// instDesc is one body instruction, in program order. The pseudo ops "loop"
// and "end" open and close a loop; Name is then the loop name.
type instDesc struct {
	Name     string   `toml:"name"`
	Op       string   `toml:"op"`
	Type     string   `toml:"type"`
	Args     []string `toml:"args"`
	Pred     string   `toml:"pred"`
	Callee   string   `toml:"callee"`
	Base     string   `toml:"base"`
	Index    string   `toml:"index"`
	Addr     string   `toml:"addr"`
	Backedge string   `toml:"backedge"`
	// SCEV attaches a closed form to the value.
	SCEV string `toml:"scev"`
}

// regionDesc names the markers delimiting a region. Without them the n-th
// region spans the n-th start and end markers.
type regionDesc struct {
	Name   string      `toml:"name"`
	Start  string      `toml:"start"`
	End    string      `toml:"end"`
	Graphs []graphDesc `toml:"graph"`
}

type graphDesc struct {
	Kind    string      `toml:"kind"`
	Unroll  int         `toml:"unroll"`
	Loops   []string    `toml:"loops"`
	Entries []entryDesc `toml:"entry"`
}

// entryDesc is one graph entry. Label lets other entries of the graph refer
// to it.
type entryDesc struct {
	Kind      string   `toml:"kind"`
	Label     string   `toml:"label"`
	Value     string   `toml:"value"`
	Conds     []string `toml:"conds"`
	Fill      string   `toml:"fill"`
	Pred      string   `toml:"pred"`
	Latency   int      `toml:"latency"`
	InMajor   bool     `toml:"in_major"`
	Index     string   `toml:"index"`
	Duplicate bool     `toml:"duplicate"`
	Atomic    bool     `toml:"atomic"`
	Abstain   int      `toml:"abstain"`
	Dims      int      `toml:"dims"`
	Controls  string   `toml:"controls"`
	Start     string   `toml:"start"`
	Trip      string   `toml:"trip"`
	Mask      int      `toml:"mask"`
}
