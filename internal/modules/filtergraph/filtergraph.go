// Package filtergraph is a structured representation of an ffmpeg
// -filter_complex graph. Chains are assembled as values and only rendered to
// ffmpeg's textual syntax by String.
package filtergraph

import (
	"fmt"
	"strconv"
	"strings"
)

// InputKind identifies what an input file feeds.
type InputKind string

const (
	InputSceneVideo InputKind = "scene_video"
	InputSceneAudio InputKind = "scene_audio"
	InputMusic      InputKind = "music"
	InputLogo       InputKind = "logo"
)

// Input is one -i argument. Scene is -1 for non-scene inputs.
type Input struct {
	Path    string
	Kind    InputKind
	Scene   int
	Options []string // placed before -i, e.g. -loop 1
}

// Arg is one filter option. An empty Key makes it positional.
type Arg struct {
	Key   string
	Value string
}

// Filter is a single filter stage.
type Filter struct {
	Name string
	Args []Arg
}

// Chain is a linear run of filters between labeled pads.
type Chain struct {
	Inputs  []string
	Filters []Filter
	Outputs []string
}

// Graph is a complete filter graph with its ordered inputs.
type Graph struct {
	Inputs   []Input
	Chains   []Chain
	VideoOut string
	AudioOut string
	// Duration is the length of the concatenated timeline in seconds.
	Duration float64
}

// New creates a filter with the given args.
func New(name string, args ...Arg) Filter {
	return Filter{Name: name, Args: args}
}

// KV is a key=value option.
func KV(key string, value any) Arg {
	return Arg{Key: key, Value: format(value)}
}

// Pos is a positional option.
func Pos(value any) Arg {
	return Arg{Value: format(value)}
}

// Expr is an expression option quoted so commas survive graph parsing.
func Expr(key, expr string) Arg {
	return Arg{Key: key, Value: quote(expr)}
}

// Literal is a free-form string option (text, paths, colors) escaped for both
// the option parser and the graph parser.
func Literal(key, value string) Arg {
	return Arg{Key: key, Value: quote(escapeOption(value))}
}

// Num formats a float without trailing zeros.
func Num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func format(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case float64:
		return Num(v)
	default:
		return fmt.Sprint(v)
	}
}

func escapeOption(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`, `:`, `\:`)
	return r.Replace(s)
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func (a Arg) String() string {
	if a.Key == "" {
		return a.Value
	}
	return a.Key + "=" + a.Value
}

func (f Filter) String() string {
	if len(f.Args) == 0 {
		return f.Name
	}
	parts := make([]string, len(f.Args))
	for i, a := range f.Args {
		parts[i] = a.String()
	}
	return f.Name + "=" + strings.Join(parts, ":")
}

// Arg returns the value of a keyed option.
func (f Filter) Arg(key string) (string, bool) {
	for _, a := range f.Args {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

func (c Chain) String() string {
	var b strings.Builder
	for _, in := range c.Inputs {
		b.WriteString("[" + in + "]")
	}
	for i, f := range c.Filters {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(f.String())
	}
	for _, out := range c.Outputs {
		b.WriteString("[" + out + "]")
	}
	return b.String()
}

// String renders the graph as a -filter_complex argument.
func (g *Graph) String() string {
	parts := make([]string, len(g.Chains))
	for i, c := range g.Chains {
		parts[i] = c.String()
	}
	return strings.Join(parts, ";")
}

// InputArgs renders the -i arguments in input index order.
func (g *Graph) InputArgs() []string {
	var args []string
	for _, in := range g.Inputs {
		args = append(args, in.Options...)
		args = append(args, "-i", in.Path)
	}
	return args
}

// InputsOf returns the inputs of one kind in index order.
func (g *Graph) InputsOf(kind InputKind) []Input {
	var out []Input
	for _, in := range g.Inputs {
		if in.Kind == kind {
			out = append(out, in)
		}
	}
	return out
}

// FiltersNamed returns every filter stage with the given name, in chain order.
func (g *Graph) FiltersNamed(name string) []Filter {
	var out []Filter
	for _, c := range g.Chains {
		for _, f := range c.Filters {
			if f.Name == name {
				out = append(out, f)
			}
		}
	}
	return out
}

// Validate checks label consistency: every consumed pad is an input stream
// or produced exactly once, every produced label is consumed exactly once
// except the two terminal outputs, and both terminal outputs exist.
func (g *Graph) Validate() error {
	produced := make(map[string]int)
	consumed := make(map[string]int)

	for i, c := range g.Chains {
		if len(c.Filters) == 0 {
			return fmt.Errorf("chain %d has no filters", i)
		}
		if len(c.Outputs) == 0 {
			return fmt.Errorf("chain %d has no output label", i)
		}
		for _, out := range c.Outputs {
			produced[out]++
		}
		for _, in := range c.Inputs {
			consumed[in]++
		}
	}

	for label, n := range produced {
		if n > 1 {
			return fmt.Errorf("label %q produced %d times", label, n)
		}
	}

	for label, n := range consumed {
		if idx, ok := inputIndex(label); ok {
			if idx >= len(g.Inputs) {
				return fmt.Errorf("label %q references missing input %d", label, idx)
			}
			continue
		}
		if produced[label] == 0 {
			return fmt.Errorf("label %q consumed but never produced", label)
		}
		if n > 1 {
			return fmt.Errorf("label %q consumed %d times", label, n)
		}
	}

	for _, terminal := range []string{g.VideoOut, g.AudioOut} {
		if terminal == "" || produced[terminal] == 0 {
			return fmt.Errorf("terminal label %q is not produced", terminal)
		}
		if consumed[terminal] > 0 {
			return fmt.Errorf("terminal label %q is consumed inside the graph", terminal)
		}
	}

	for label := range produced {
		if label != g.VideoOut && label != g.AudioOut && consumed[label] == 0 {
			return fmt.Errorf("label %q is produced but never used", label)
		}
	}

	return nil
}

// StreamRef returns the pad label for a stream of an input, e.g. "2:a".
func StreamRef(index int, stream string) string {
	return strconv.Itoa(index) + ":" + stream
}

func inputIndex(label string) (int, bool) {
	idx, _, ok := strings.Cut(label, ":")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(idx)
	if err != nil {
		return 0, false
	}
	return n, true
}
