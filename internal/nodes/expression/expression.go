// Package expression implements the Expression processor node: evaluates a
// parsed expression tree against two (or three, for a ternary condition
// series) aligned inputs per matched join key (spec.md §4.5, §4.6).
// Expressions are compiled once with github.com/expr-lang/expr and re-run
// per tick against a small Env, grounded in the teacher's rule-engine usage
// in internal/tagger. Multi-series operands are partitioned and paired by
// internal/join before evaluation, so an expression over a grouped metric
// (one series per host, say) emits one result series per matched host
// rather than silently collapsing every host into a single timestamp-keyed
// blob.
package expression

import (
	"context"
	"math"
	"sort"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/tsqueng/coreengine/internal/join"
	"github.com/tsqueng/coreengine/internal/nodes"
	"github.com/tsqueng/coreengine/internal/pipeline"
	"github.com/tsqueng/coreengine/internal/tsdata"
)

func init() {
	pipeline.Register("expression", func(cfg pipeline.NodeConfig) (pipeline.Node, error) {
		c, err := configFromOptions(cfg.Options)
		if err != nil {
			return nil, err
		}
		program, err := expr.Compile(c.Expr, expr.AsFloat64())
		if err != nil {
			return nil, err
		}
		return &Node{Base: nodes.Base{NodeID: cfg.ID}, cfg: c, program: program}, nil
	})
}

// Config configures an Expression node. Left/Right/Cond name the operand
// variables that the join engine partitions and pairs on; when left blank,
// Evaluate infers them from whatever distinct series labels are present
// (the common case: one series per operand, nothing to configure).
// JoinKeys is the explicit tag-key selector (spec.md §4.6); empty means
// "all tags common to every operand set".
type Config struct {
	Expr          string
	InfectiousNaN bool
	Not           bool
	Left          string
	Right         string
	Cond          string
	Variant       string
	JoinKeys      []string
}

func configFromOptions(opts map[string]interface{}) (Config, error) {
	c := Config{}
	if opts == nil {
		return c, nil
	}
	if v, ok := opts["expr"].(string); ok {
		c.Expr = v
	}
	if v, ok := opts["infectious_nan"].(bool); ok {
		c.InfectiousNaN = v
	}
	if v, ok := opts["not"].(bool); ok {
		c.Not = v
	}
	if v, ok := opts["left"].(string); ok {
		c.Left = v
	}
	if v, ok := opts["right"].(string); ok {
		c.Right = v
	}
	if v, ok := opts["cond"].(string); ok {
		c.Cond = v
	}
	if v, ok := opts["variant"].(string); ok {
		c.Variant = v
	}
	if raw, ok := opts["join_keys"].([]interface{}); ok {
		for _, x := range raw {
			if s, ok := x.(string); ok {
				c.JoinKeys = append(c.JoinKeys, s)
			}
		}
	}
	return c, nil
}

// Node is the Expression processor. It joins its input result's operand
// series by tag key and evaluates cfg.Expr once per matched pair/tuple.
type Node struct {
	nodes.Base
	cfg     Config
	program *vm.Program
}

func (n *Node) Initialize(ctx context.Context) error { return nil }

func (n *Node) OnNext(ctx context.Context, res tsdata.Result) error {
	out, err := Evaluate(res.Series, n.program, n.cfg)
	if err != nil {
		return err
	}
	next := res
	next.Series = out
	return n.Forward(ctx, next)
}

func (n *Node) OnPartial(ctx context.Context, set tsdata.PartialTimeSeriesSet) error {
	return n.ForwardPartial(ctx, set)
}

// Evaluate partitions series into operand groups (cfg.Left/Right/Cond, or
// inferred from distinct labels when unset), joins them via internal/join
// per spec.md §4.6, and evaluates program once per matched group. One
// output series is emitted per join result; a single-operand expression
// (at most one distinct label present) skips the join engine entirely and
// evaluates over the whole input as one group, since there's nothing to
// partition.
func Evaluate(series []tsdata.Series, program *vm.Program, cfg Config) ([]tsdata.Series, error) {
	labels := distinctLabels(series)
	if len(labels) <= 1 {
		s, err := evalGroup(series, labels, program, cfg, nil)
		if err != nil {
			return nil, err
		}
		return []tsdata.Series{s}, nil
	}

	left, right, cond := cfg.Left, cfg.Right, cfg.Cond
	if left == "" && right == "" {
		switch {
		case cond != "" || len(labels) >= 3:
			left, right = labels[0], labels[1]
			if cond == "" {
				cond = labels[2]
			}
		default:
			left, right = labels[0], labels[1]
		}
	}

	leftSet := seriesWithLabel(series, left)
	rightSet := seriesWithLabel(series, right)

	if cond != "" {
		condSet := seriesWithLabel(series, cond)
		key := join.KeysFromTagList(joinKeysOrCommon(cfg.JoinKeys, leftSet, rightSet, condSet))
		tuples := join.RunTernary(leftSet, rightSet, condSet, key)
		operandLabels := []string{left, right, cond}
		out := make([]tsdata.Series, 0, len(tuples))
		for _, t := range tuples {
			s, err := evalGroup([]tsdata.Series{t.Left, t.Right, t.Cond}, operandLabels, program, cfg,
				mergeTags(t.Left.Tags, t.Right.Tags, t.Cond.Tags))
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
		return out, nil
	}

	key := join.KeysFromTagList(joinKeysOrCommon(cfg.JoinKeys, leftSet, rightSet))
	pairs := join.Run(leftSet, rightSet, key, variantFromString(cfg.Variant))
	operandLabels := []string{left, right}
	out := make([]tsdata.Series, 0, len(pairs))
	for _, p := range pairs {
		var group []tsdata.Series
		tags := map[string]string{}
		if p.HasLeft {
			group = append(group, p.Left)
			mergeTagsInto(tags, p.Left.Tags)
		}
		if p.HasRight {
			group = append(group, p.Right)
			mergeTagsInto(tags, p.Right.Tags)
		}
		s, err := evalGroup(group, operandLabels, program, cfg, tags)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// evalGroup aligns one matched operand group by timestamp (outer join
// across ticks: a timestamp present in any input series produces one
// output tick) and runs program once per tick with each operand label
// bound to its value at that tick. operandLabels names every operand role
// this group represents (e.g. left/right), not just the labels physically
// present in series, so a join side missing entirely (e.g. a LEFT join's
// unmatched right side) still gets infectious_nan treatment rather than
// silently vanishing from the eval environment.
func evalGroup(series []tsdata.Series, operandLabels []string, program *vm.Program, cfg Config, tags map[string]string) (tsdata.Series, error) {
	byTS := map[int64]map[string]float64{}
	var order []int64
	for _, s := range series {
		for _, p := range s.Points {
			m, ok := byTS[p.Timestamp]
			if !ok {
				m = map[string]float64{}
				byTS[p.Timestamp] = m
				order = append(order, p.Timestamp)
			}
			m[s.ID.Label] = float64(p.Value)
		}
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	out := make([]tsdata.Point, len(order))
	for i, ts := range order {
		env := operandEnv(byTS[ts], operandLabels, cfg)
		v, err := expr.Run(program, env)
		if err != nil {
			return tsdata.Series{}, err
		}
		f, _ := v.(float64)
		if cfg.Not {
			f = boolToFloat(f == 0)
		}
		out[i] = tsdata.Point{Timestamp: ts, Value: tsdata.Float(f)}
	}
	return tsdata.Series{Kind: tsdata.ValueScalar, Points: out, Tags: tags}, nil
}

// operandEnv builds the expr evaluation environment for one tick, applying
// the NaN-infectiousness rule of spec.md §4.5: by default NaN is
// non-infectious (e.g. "NaN + x = x"), so a present-but-NaN sample (a
// downsample gap filled with NOT_A_NUMBER) and a tick where this operand
// has no sample at all are both treated identically — bound to the
// aggregator's neutral value (0) — unless cfg.InfectiousNaN opts into
// propagating NaN through the expression instead. Binding a neutral value
// rather than omitting a missing operand also keeps expr.Run from failing
// on an undefined variable when one side of an OUTER/LEFT join has no
// match at this tick.
func operandEnv(tick map[string]float64, operandLabels []string, cfg Config) map[string]interface{} {
	const neutral = 0.0
	env := make(map[string]interface{}, len(operandLabels))
	for _, label := range operandLabels {
		v, ok := tick[label]
		switch {
		case !ok, math.IsNaN(v):
			if cfg.InfectiousNaN {
				env[label] = math.NaN()
			} else {
				env[label] = neutral
			}
		default:
			env[label] = v
		}
	}
	return env
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// distinctLabels returns the sorted set of distinct series labels present,
// used to infer the join's operand roles when Config doesn't name them.
func distinctLabels(series []tsdata.Series) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range series {
		if !seen[s.ID.Label] {
			seen[s.ID.Label] = true
			out = append(out, s.ID.Label)
		}
	}
	sort.Strings(out)
	return out
}

func seriesWithLabel(series []tsdata.Series, label string) []tsdata.Series {
	if label == "" {
		return nil
	}
	var out []tsdata.Series
	for _, s := range series {
		if s.ID.Label == label {
			out = append(out, s)
		}
	}
	return out
}

// joinKeysOrCommon returns explicit if non-empty, else the tag keys common
// to every operand set (spec.md §4.6's "all common tags" selector mode).
func joinKeysOrCommon(explicit []string, sets ...[]tsdata.Series) []string {
	if len(explicit) > 0 {
		return explicit
	}
	counts := map[string]int{}
	for _, set := range sets {
		seen := map[string]bool{}
		for _, s := range set {
			for k := range s.Tags {
				if !seen[k] {
					seen[k] = true
					counts[k]++
				}
			}
		}
	}
	var common []string
	for k, c := range counts {
		if c == len(sets) {
			common = append(common, k)
		}
	}
	sort.Strings(common)
	return common
}

func mergeTagsInto(dst, src map[string]string) {
	for k, v := range src {
		dst[k] = v
	}
}

func mergeTags(sets ...map[string]string) map[string]string {
	out := map[string]string{}
	for _, s := range sets {
		mergeTagsInto(out, s)
	}
	return out
}

// variantFromString maps the wire "variant" option to a join.Variant;
// unset or unrecognized defaults to Inner, since a binary expression's two
// operands are both required to produce a meaningful value in the common
// case (spec.md leaves the default unstated; Inner is the conservative
// choice that never evaluates a partially-present operand set).
func variantFromString(s string) join.Variant {
	switch s {
	case "left":
		return join.Left
	case "right":
		return join.Right
	case "outer":
		return join.Outer
	case "cross":
		return join.Cross
	case "natural_outer", "disjoint":
		return join.NaturalOuter
	default:
		return join.Inner
	}
}
