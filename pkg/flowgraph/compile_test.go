package flowgraph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/voide-engine/pkg/flowgraph/porttype"
)

func TestBuild_InvalidCanvas(t *testing.T) {
	c := NewCanvas("bad").
		AddNode(Node("a", "x").WithOut("p", "T1")).
		AddNode(Node("b", "output").WithIn("p", "T2")).
		Connect("a", "p", "b", "p")

	dag, err := Build(*c)
	assert.Nil(t, dag)
	requireBuildError(t, err, CodeType)
	assert.Panics(t, func() { MustBuild(*c) })
}

func TestDAG_Accessors(t *testing.T) {
	dag := mustBuild(t, diamondCanvas())

	assert.Equal(t, "diamond", dag.ID())
	assert.Equal(t, 4, dag.Len())
	assert.Equal(t, []string{"a", "b", "c", "d"}, dag.NodeIDs())
	assert.True(t, dag.HasNode("b"))
	assert.False(t, dag.HasNode("z"))

	n, ok := dag.Node("b")
	require.True(t, ok)
	assert.Equal(t, "pass", n.Type)
	_, ok = dag.Node("z")
	assert.False(t, ok)

	assert.Len(t, dag.Edges(), 4)
	assert.Equal(t, []string{"b", "c"}, dag.Downstream("a"))
	assert.Equal(t, []string{"b", "c"}, dag.Upstream("d"))
	assert.Empty(t, dag.Downstream("d"))
	assert.Equal(t, []string{"a"}, dag.Roots())
	assert.Equal(t, []string{"d"}, dag.Sinks())
	assert.Equal(t, []string{"a", "b", "c", "d"}, dag.TopoOrder())
	assert.Equal(t, []string{"b", "c", "d"}, dag.Descendants("a"))
	assert.Equal(t, []string{"d"}, dag.Descendants("b"))
	assert.Empty(t, dag.Descendants("d"))

	out := dag.Outgoing("a")
	require.Len(t, out, 2)
	assert.Equal(t, "a:v->b:v", out[0].Key)
	assert.Equal(t, "a:v->c:v", out[1].Key)
	in := dag.Incoming("d")
	require.Len(t, in, 2)
	assert.Equal(t, "b", in[0].From.Node)
}

func TestDAG_DownstreamDeduplicatesParallelEdges(t *testing.T) {
	c := NewCanvas("p").
		AddNode(Node("a", "x").WithOut("o1", "T").WithOut("o2", "T")).
		AddNode(Node("b", "output").WithIn("i1", "T").WithIn("i2", "T")).
		Connect("a", "o1", "b", "i1").
		Connect("a", "o2", "b", "i2")
	dag := mustBuild(t, c)

	assert.Equal(t, []string{"b"}, dag.Downstream("a"))
	assert.Len(t, dag.Outgoing("a"), 2)
}

func TestDAG_NegotiatedEdgeType(t *testing.T) {
	c := NewCanvas("n").
		AddNode(Node("a", "x").WithOut("p", "LLMText", "UserText")).
		AddNode(Node("b", "output").WithIn("p", "UserText", "LLMText")).
		AddNode(Node("c", "output").WithIn("p", "UserText")).
		Connect("a", "p", "b", "p").
		Connect("a", "p", "c", "p")
	dag := mustBuild(t, c)

	edges := dag.Edges()
	assert.Equal(t, "LLMText", edges[0].Type, "first source type the destination accepts")
	assert.Equal(t, "LLMText", edges[0].SourceType)
	assert.Equal(t, "UserText", edges[1].Type)
	assert.Equal(t, "LLMText", edges[1].SourceType)
}

func TestDAG_IsIsolatedFromCanvas(t *testing.T) {
	c := linearCanvas()
	dag := mustBuild(t, c)

	c.Nodes[1].Type = "changed"
	c.Edges[0].To.Node = "out"

	n, _ := dag.Node("mid")
	assert.Equal(t, "pass", n.Type)
	assert.Equal(t, "mid", dag.Edges()[0].To.Node)

	n.Out[0].Types[0] = "mutated"
	again, _ := dag.Node("mid")
	assert.Equal(t, "T", again.Out[0].Types[0])
}

func TestBuild_WithTypeRegistry(t *testing.T) {
	c := NewCanvas("typed").
		AddNode(Node("a", "x").WithOut("p", porttype.UserText)).
		AddNode(Node("b", "output").WithIn("p", porttype.UserText, "Mystery")).
		Connect("a", "p", "b", "p")

	_, err := Build(*c)
	require.NoError(t, err, "plain validation ignores unknown type names")

	_, err = Build(*c, WithTypeRegistry(porttype.NewRegistry()))
	require.Error(t, err)
	var ute *porttype.UnknownTypeError
	require.True(t, errors.As(err, &ute))
	assert.Equal(t, "Mystery", ute.Name)
	assert.ErrorIs(t, err, porttype.ErrUnknownType)
}
