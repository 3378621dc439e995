// Package rules compiles and evaluates anomaly detection expressions against
// packet records. Expressions use expr-lang syntax over the record's fields:
//
//	length > 9000
//	protocol == "TCP" && dst_port == 23
//	src_ip == "10.0.0.5" && length < 64
//
// Rules are detection only: a match flags the record, it never filters it.
package rules

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/netlens/netlens/pkg/model"
)

// Env is the evaluation environment exposed to rule expressions.
type Env struct {
	Length    int     `expr:"length"`
	Protocol  string  `expr:"protocol"`
	SrcIP     string  `expr:"src_ip"`
	DstIP     string  `expr:"dst_ip"`
	SrcPort   int     `expr:"src_port"`
	DstPort   int     `expr:"dst_port"`
	Timestamp float64 `expr:"timestamp"`
}

// Rule is a single compiled anomaly expression.
type Rule struct {
	Source  string
	program *vm.Program
}

// Compile parses one rule expression. The expression must evaluate to bool.
func Compile(source string) (*Rule, error) {
	program, err := expr.Compile(source, expr.Env(Env{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile rule %q: %w", source, err)
	}
	return &Rule{Source: source, program: program}, nil
}

// CompileAll compiles a rule set, failing on the first invalid expression.
func CompileAll(sources []string) ([]*Rule, error) {
	out := make([]*Rule, 0, len(sources))
	for _, src := range sources {
		r, err := Compile(src)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Match evaluates the rule against a record. Evaluation errors count as no
// match; rules are advisory and must never stall the pipeline.
func (r *Rule) Match(rec *model.PacketRecord) bool {
	env := Env{
		Length:    rec.Length,
		Protocol:  rec.Protocol,
		SrcIP:     rec.SrcIP,
		DstIP:     rec.DstIP,
		SrcPort:   rec.SrcPort,
		DstPort:   rec.DstPort,
		Timestamp: rec.Timestamp,
	}
	v, err := expr.Run(r.program, env)
	if err != nil {
		return false
	}
	matched, _ := v.(bool)
	return matched
}
