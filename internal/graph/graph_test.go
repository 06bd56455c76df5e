package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSchemaMerge(t *testing.T) {
	sch := Schema{"items": Append}
	state := State{}

	require.NoError(t, sch.Merge(state, State{"items": []string{"a"}, "count": 1}))
	require.NoError(t, sch.Merge(state, State{"items": []string{"b", "c"}, "count": 2}))

	assert.Equal(t, []string{"a", "b", "c"}, state.GetStrings("items"))
	assert.Equal(t, 2, state.GetInt("count"))
}

func TestSchemaMergeTypedSlices(t *testing.T) {
	type src struct{ URL string }
	sch := Schema{"sources": Append}
	state := State{}

	require.NoError(t, sch.Merge(state, State{"sources": []src{{URL: "a"}}}))
	require.NoError(t, sch.Merge(state, State{"sources": []src{{URL: "b"}}}))
	assert.Equal(t, []src{{URL: "a"}, {URL: "b"}}, state["sources"])
}

func TestSchemaMergeRejectsMismatch(t *testing.T) {
	sch := Schema{"items": Append}
	state := State{}
	require.NoError(t, sch.Merge(state, State{"items": []string{"a"}}))
	assert.Error(t, sch.Merge(state, State{"items": []int{1}}))
	assert.Error(t, sch.Merge(state, State{"items": "not a slice"}))
}

func node(delta State) NodeFunc {
	return func(ctx context.Context, s State, cfg Config) (State, error) {
		return delta, nil
	}
}

func TestCompileValidation(t *testing.T) {
	t.Run("missing entry", func(t *testing.T) {
		_, err := New(nil).Compile()
		assert.ErrorContains(t, err, "no entry")
	})

	t.Run("edge to unknown node", func(t *testing.T) {
		b := New(nil).AddNode("a", node(nil)).AddEdge("a", "ghost").SetEntry("a")
		_, err := b.Compile()
		assert.ErrorContains(t, err, "unknown node")
	})

	t.Run("dangling node", func(t *testing.T) {
		b := New(nil).
			AddNode("a", node(nil)).AddEdge("a", End).
			AddNode("b", node(nil)).
			SetEntry("a")
		_, err := b.Compile()
		assert.ErrorContains(t, err, "no outgoing edge")
	})

	t.Run("both edge kinds", func(t *testing.T) {
		b := New(nil).
			AddNode("a", node(nil)).
			AddEdge("a", End).
			AddConditionalEdges("a", func(State, Config) ([]Dispatch, error) { return To(End), nil }).
			SetEntry("a")
		_, err := b.Compile()
		assert.ErrorContains(t, err, "both sequential and conditional")
	})
}

func TestInvokeSequential(t *testing.T) {
	g, err := New(Schema{"trail": Append}).
		AddNode("a", node(State{"trail": []string{"a"}})).
		AddNode("b", node(State{"trail": []string{"b"}, "done": true})).
		AddEdge("a", "b").
		AddEdge("b", End).
		SetEntry("a").
		Compile()
	require.NoError(t, err)

	final, err := g.Invoke(context.Background(), State{"trail": []string{"start"}}, Config{})
	require.NoError(t, err)
	assert.Equal(t, []string{"start", "a", "b"}, final.GetStrings("trail"))
	assert.True(t, final.GetBool("done"))
}

func TestConditionalRouting(t *testing.T) {
	mk := func(route string) (*Compiled, error) {
		return New(nil).
			AddNode("decide", node(State{"route": route})).
			AddNode("left", node(State{"took": "left"})).
			AddNode("right", node(State{"took": "right"})).
			AddConditionalEdges("decide", func(s State, _ Config) ([]Dispatch, error) {
				return To(s.GetString("route")), nil
			}).
			AddEdge("left", End).
			AddEdge("right", End).
			SetEntry("decide").
			Compile()
	}

	for _, route := range []string{"left", "right"} {
		g, err := mk(route)
		require.NoError(t, err)
		final, err := g.Invoke(context.Background(), State{}, Config{})
		require.NoError(t, err)
		assert.Equal(t, route, final.GetString("took"))
	}
}

func TestFanOutMergesAllBranches(t *testing.T) {
	var calls atomic.Int32
	g, err := New(Schema{"results": Append}).
		AddNode("spread", node(nil)).
		AddNode("work", func(ctx context.Context, s State, cfg Config) (State, error) {
			calls.Add(1)
			return State{"results": []string{s.GetString("task")}}, nil
		}).
		AddNode("join", node(State{"joined": true})).
		AddConditionalEdges("spread", func(State, Config) ([]Dispatch, error) {
			return []Dispatch{
				{Node: "work", Overlay: State{"task": "t0"}},
				{Node: "work", Overlay: State{"task": "t1"}},
				{Node: "work", Overlay: State{"task": "t2"}},
			}, nil
		}).
		AddEdge("work", "join").
		AddEdge("join", End).
		SetEntry("spread").
		Compile()
	require.NoError(t, err)

	final, err := g.Invoke(context.Background(), State{}, Config{})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.True(t, final.GetBool("joined"))

	results := final.GetStrings("results")
	sort.Strings(results)
	assert.Equal(t, []string{"t0", "t1", "t2"}, results)
}

func TestFanOutWaveCompletesBeforeSuccessor(t *testing.T) {
	seen := make(chan string, 16)
	g, err := New(Schema{"results": Append}).
		AddNode("spread", node(nil)).
		AddNode("work", func(ctx context.Context, s State, cfg Config) (State, error) {
			if s.GetString("task") == "slow" {
				time.Sleep(30 * time.Millisecond)
			}
			seen <- "work"
			return State{"results": []string{s.GetString("task")}}, nil
		}).
		AddNode("join", func(ctx context.Context, s State, cfg Config) (State, error) {
			seen <- "join"
			// Both branch contributions must be visible here.
			assert.Len(t, s.GetStrings("results"), 2)
			return nil, nil
		}).
		AddConditionalEdges("spread", func(State, Config) ([]Dispatch, error) {
			return []Dispatch{
				{Node: "work", Overlay: State{"task": "slow"}},
				{Node: "work", Overlay: State{"task": "fast"}},
			}, nil
		}).
		AddEdge("work", "join").
		AddEdge("join", End).
		SetEntry("spread").
		Compile()
	require.NoError(t, err)

	_, err = g.Invoke(context.Background(), State{}, Config{})
	require.NoError(t, err)
	close(seen)

	var order []string
	for s := range seen {
		order = append(order, s)
	}
	assert.Equal(t, []string{"work", "work", "join"}, order)
}

func TestStreamYieldsDeltasInFlowOrder(t *testing.T) {
	g, err := New(Schema{"trail": Append}).
		AddNode("a", node(State{"trail": []string{"a"}})).
		AddNode("b", node(State{"trail": []string{"b"}})).
		AddEdge("a", "b").
		AddEdge("b", End).
		SetEntry("a").
		Compile()
	require.NoError(t, err)

	steps, wait := g.Stream(context.Background(), State{}, Config{})
	var names []string
	for s := range steps {
		names = append(names, s.Node)
	}
	require.NoError(t, wait())
	assert.Equal(t, []string{"a", "b"}, names)
}

func TestStreamFanOutDeltasArriveBeforeJoin(t *testing.T) {
	g, err := New(Schema{"results": Append}).
		AddNode("spread", node(nil)).
		AddNode("work", func(ctx context.Context, s State, cfg Config) (State, error) {
			return State{"results": []string{s.GetString("task")}}, nil
		}).
		AddNode("join", node(nil)).
		AddConditionalEdges("spread", func(State, Config) ([]Dispatch, error) {
			return []Dispatch{
				{Node: "work", Overlay: State{"task": "t0"}},
				{Node: "work", Overlay: State{"task": "t1"}},
			}, nil
		}).
		AddEdge("work", "join").
		AddEdge("join", End).
		SetEntry("spread").
		Compile()
	require.NoError(t, err)

	steps, wait := g.Stream(context.Background(), State{}, Config{})
	var names []string
	for s := range steps {
		names = append(names, s.Node)
	}
	require.NoError(t, wait())
	assert.Equal(t, []string{"spread", "work", "work", "join"}, names)
}

func TestNodeErrorStopsRun(t *testing.T) {
	boom := errors.New("boom")
	g, err := New(nil).
		AddNode("a", node(nil)).
		AddNode("b", func(ctx context.Context, s State, cfg Config) (State, error) {
			return nil, boom
		}).
		AddEdge("a", "b").
		AddEdge("b", End).
		SetEntry("a").
		Compile()
	require.NoError(t, err)

	_, err = g.Invoke(context.Background(), State{}, Config{})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "node b")
}

func TestContextCancellationStopsRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hops := 0
	g, err := New(nil).
		AddNode("loop", func(ctx context.Context, s State, cfg Config) (State, error) {
			hops++
			if hops == 2 {
				cancel()
			}
			return nil, nil
		}).
		AddConditionalEdges("loop", func(State, Config) ([]Dispatch, error) {
			return To("loop"), nil
		}).
		SetEntry("loop").
		Compile()
	require.NoError(t, err)

	_, err = g.Invoke(ctx, State{}, Config{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.LessOrEqual(t, hops, 3)
}

func TestCyclicRoutingTerminatesOnCondition(t *testing.T) {
	g, err := New(Schema{"trail": Append}).
		AddNode("step", func(ctx context.Context, s State, cfg Config) (State, error) {
			return State{
				"n":     s.GetInt("n") + 1,
				"trail": []string{fmt.Sprintf("n%d", s.GetInt("n")+1)},
			}, nil
		}).
		AddConditionalEdges("step", func(s State, _ Config) ([]Dispatch, error) {
			if s.GetInt("n") >= 3 {
				return To(End), nil
			}
			return To("step"), nil
		}).
		SetEntry("step").
		Compile()
	require.NoError(t, err)

	final, err := g.Invoke(context.Background(), State{}, Config{})
	require.NoError(t, err)
	assert.Equal(t, 3, final.GetInt("n"))
	assert.Equal(t, []string{"n1", "n2", "n3"}, final.GetStrings("trail"))
}
