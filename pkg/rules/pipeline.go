package rules

import (
	"context"
	"fmt"

	"ilp-connector/pkg/ilp"
)

// Pipeline composes rules so that the first rule is the outermost wrapper in
// both directions.
type Pipeline struct {
	rules []Rule
}

func NewPipeline(rules ...Rule) *Pipeline {
	return &Pipeline{rules: append([]Rule(nil), rules...)}
}

// Outgoing returns r1.Outgoing(r2.Outgoing(... rn.Outgoing(terminal))).
// With no rules, terminal itself is returned.
func (p *Pipeline) Outgoing(terminal ilp.Handler) ilp.Handler {
	h := terminal
	for i := len(p.rules) - 1; i >= 0; i-- {
		h = p.rules[i].Outgoing(h)
	}
	return h
}

// Incoming is the Incoming counterpart of Outgoing.
func (p *Pipeline) Incoming(terminal ilp.Handler) ilp.Handler {
	h := terminal
	for i := len(p.rules) - 1; i >= 0; i-- {
		h = p.rules[i].Incoming(h)
	}
	return h
}

// Startup starts rules in order. If one fails, the rules already started are
// shut down in reverse order.
func (p *Pipeline) Startup(ctx context.Context) error {
	for i, r := range p.rules {
		if err := r.Startup(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				p.rules[j].Shutdown()
			}
			return fmt.Errorf("start rule %d (%T): %w", i, r, err)
		}
	}
	return nil
}

// Shutdown stops rules in reverse order.
func (p *Pipeline) Shutdown() {
	for i := len(p.rules) - 1; i >= 0; i-- {
		p.rules[i].Shutdown()
	}
}

func (p *Pipeline) Rules() []Rule {
	return append([]Rule(nil), p.rules...)
}

func (p *Pipeline) Len() int {
	return len(p.rules)
}
