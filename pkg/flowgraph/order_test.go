package flowgraph

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopoOrder(t *testing.T) {
	tests := []struct {
		name   string
		canvas *Canvas
		want   []string
	}{
		{"empty", NewCanvas("e"), []string{}},
		{"linear", linearCanvas(), []string{"in", "mid", "out"}},
		{"diamond", diamondCanvas(), []string{"a", "b", "c", "d"}},
		{"independent branches keep declaration order", twoBranchCanvas(), []string{"a1", "b1", "a2", "b2"}},
		{"declared out of order", NewCanvas("r").
			AddNode(Node("z", "output").WithIn("i", "T")).
			AddNode(Node("y", "x").WithIn("i", "T").WithOut("o", "T")).
			AddNode(Node("x", "x").WithOut("o", "T")).
			Connect("x", "o", "y", "i").
			Connect("y", "o", "z", "i"),
			[]string{"x", "y", "z"}},
		{"successors in edge order", NewCanvas("s").
			AddNode(Node("root", "x").WithOut("o", "T")).
			AddNode(Node("first", "output").WithIn("i", "T")).
			AddNode(Node("second", "output").WithIn("i", "T")).
			Connect("root", "o", "second", "i").
			Connect("root", "o", "first", "i"),
			[]string{"root", "second", "first"}},
		{"interleaved parallel edges count once", interleavedCanvas(), []string{"a", "c", "b", "end"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TopoOrder(*tt.canvas)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTopoOrder_Cycle(t *testing.T) {
	c := NewCanvas("cycle").
		AddNode(Node("pre", "x").WithOut("o", "T")).
		AddNode(Node("a", "x").WithIn("i", "T").WithOut("o", "T")).
		AddNode(Node("b", "x").WithIn("i", "T").WithOut("o", "T")).
		Connect("pre", "o", "a", "i").
		Connect("a", "o", "b", "i").
		Connect("b", "o", "a", "i")

	order, err := TopoOrder(*c)
	assert.ErrorIs(t, err, ErrIncompleteOrder)
	assert.Equal(t, []string{"pre"}, order)
}

func TestTopoOrder_ParallelEdges(t *testing.T) {
	c := NewCanvas("p").
		AddNode(Node("a", "x").WithOut("o1", "T").WithOut("o2", "T")).
		AddNode(Node("b", "output").WithIn("i1", "T").WithIn("i2", "T")).
		Connect("a", "o1", "b", "i1").
		Connect("a", "o2", "b", "i2")

	order, err := TopoOrder(*c)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, order)
}

// interleavedCanvas has two edges from a to c with an edge to b between
// them, so c is released by a before b.
func interleavedCanvas() *Canvas {
	return NewCanvas("interleaved").
		AddNode(Node("a", "source").WithIn("seed", "T").WithOut("v", "T")).
		AddNode(Node("b", "pass").WithIn("v", "T").WithOut("v", "T")).
		AddNode(Node("c", "output").WithIn("x", "T").WithIn("y", "T")).
		AddNode(Node("end", "output").WithIn("v", "T")).
		Connect("a", "v", "c", "x").
		Connect("a", "v", "b", "v").
		Connect("a", "v", "c", "y").
		Connect("b", "v", "end", "v")
}

// randomDAG builds a canvas whose edges always point from a lower to a
// higher index, declared in shuffled order.
func randomDAG(rng *rand.Rand, n int) *Canvas {
	perm := rng.Perm(n)
	c := NewCanvas("random")
	for _, i := range perm {
		c.AddNode(Node(fmt.Sprintf("n%d", i), "x").WithIn("i", "T").WithOut("o", "T"))
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if rng.Intn(4) == 0 {
				c.Connect(fmt.Sprintf("n%d", i), "o", fmt.Sprintf("n%d", j), "i")
			}
		}
	}
	return c
}

func TestTopoOrder_IsPermutationRespectingEdges(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 50; round++ {
		c := randomDAG(rng, 1+rng.Intn(30))

		order, err := TopoOrder(*c)
		require.NoError(t, err)
		require.Len(t, order, len(c.Nodes))

		pos := make(map[string]int, len(order))
		for i, id := range order {
			_, dup := pos[id]
			require.False(t, dup, "node %s placed twice", id)
			pos[id] = i
		}
		for _, e := range c.Edges {
			assert.Less(t, pos[e.From.Node], pos[e.To.Node], "edge %s", e.Key())
		}
	}
}

func TestFrontier(t *testing.T) {
	f := NewFrontier("a", "b")
	assert.True(t, f.HasReady())
	assert.Equal(t, 2, f.Len())

	f.Add("c")
	f.Add("a")
	assert.Equal(t, []string{"a", "b", "c"}, f.Pending())
	assert.True(t, f.Contains("b"))

	id, ok := f.NextReady()
	require.True(t, ok)
	assert.Equal(t, "a", id)
	assert.False(t, f.Contains("a"))

	f.Add("a")
	assert.Equal(t, []string{"b", "c", "a"}, f.Pending())

	for _, want := range []string{"b", "c", "a"} {
		id, ok := f.NextReady()
		require.True(t, ok)
		assert.Equal(t, want, id)
	}
	assert.False(t, f.HasReady())
	_, ok = f.NextReady()
	assert.False(t, ok)
}

func TestFrontier_ZeroValue(t *testing.T) {
	var f Frontier
	assert.False(t, f.HasReady())
	f.Add("x")
	id, ok := f.NextReady()
	require.True(t, ok)
	assert.Equal(t, "x", id)
}
