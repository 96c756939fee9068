package rules

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ilp-connector/pkg/ilp"
)

type recordingRule struct {
	name     string
	trace    *[]string
	startErr error
}

func (r *recordingRule) Incoming(next ilp.Handler) ilp.Handler {
	return func(ctx context.Context, p *ilp.Prepare) (ilp.Reply, error) {
		*r.trace = append(*r.trace, "in:"+r.name)
		return next(ctx, p)
	}
}

func (r *recordingRule) Outgoing(next ilp.Handler) ilp.Handler {
	return func(ctx context.Context, p *ilp.Prepare) (ilp.Reply, error) {
		*r.trace = append(*r.trace, "out:"+r.name)
		return next(ctx, p)
	}
}

func (r *recordingRule) Startup(context.Context) error {
	*r.trace = append(*r.trace, "start:"+r.name)
	return r.startErr
}

func (r *recordingRule) Shutdown() {
	*r.trace = append(*r.trace, "stop:"+r.name)
}

func TestPipelineOrder(t *testing.T) {
	var trace []string
	p := NewPipeline(
		&recordingRule{name: "a", trace: &trace},
		&recordingRule{name: "b", trace: &trace},
		&recordingRule{name: "c", trace: &trace},
	)

	_, err := p.Outgoing(fulfiller)(context.Background(), testPrepare(1))
	require.NoError(t, err)
	_, err = p.Incoming(fulfiller)(context.Background(), testPrepare(1))
	require.NoError(t, err)
	assert.Equal(t, []string{"out:a", "out:b", "out:c", "in:a", "in:b", "in:c"}, trace)

	trace = nil
	require.NoError(t, p.Startup(context.Background()))
	p.Shutdown()
	assert.Equal(t, []string{"start:a", "start:b", "start:c", "stop:c", "stop:b", "stop:a"}, trace)
}

func TestEmptyPipelineReturnsTerminal(t *testing.T) {
	p := NewPipeline()
	assert.Equal(t, reflect.ValueOf(ilp.Handler(fulfiller)).Pointer(), reflect.ValueOf(p.Outgoing(fulfiller)).Pointer())
	assert.Equal(t, reflect.ValueOf(ilp.Handler(fulfiller)).Pointer(), reflect.ValueOf(p.Incoming(fulfiller)).Pointer())
	assert.Equal(t, 0, p.Len())
}

func TestPipelineStartupFailureStopsStartedRules(t *testing.T) {
	var trace []string
	boom := errors.New("boom")
	p := NewPipeline(
		&recordingRule{name: "a", trace: &trace},
		&recordingRule{name: "b", trace: &trace, startErr: boom},
		&recordingRule{name: "c", trace: &trace},
	)
	err := p.Startup(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"start:a", "start:b", "stop:a"}, trace)
}

func TestPassthroughRuleInPipeline(t *testing.T) {
	p := NewPipeline(Passthrough{})
	reply, err := p.Outgoing(fulfiller)(context.Background(), testPrepare(5))
	require.NoError(t, err)
	assert.True(t, ilp.IsFulfill(reply))
}
