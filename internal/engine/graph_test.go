package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrane-io/terrane/internal/ir"
)

func res(typ, name string, deps []string, props map[string]any) *ir.Resource {
	return &ir.Resource{
		Type:       typ,
		Name:       name,
		Provider:   "null",
		DependsOn:  deps,
		Properties: props,
	}
}

func TestBuildDAG_CreationOrder(t *testing.T) {
	resources := []*ir.Resource{
		res("aws_lb_listener", "http", nil, map[string]any{
			"load_balancer_arn": "ref://aws_lb.web/arn",
		}),
		res("aws_lb", "web", nil, nil),
		res("aws_security_group", "lb", nil, nil),
	}
	resources[1].Properties = map[string]any{
		"security_groups": []any{"ref://aws_security_group.lb/id"},
	}

	dag, err := BuildDAG(resources)
	require.NoError(t, err)

	order := dag.CreationOrder()
	require.Len(t, order, 3)
	assert.Equal(t, []string{"aws_security_group.lb", "aws_lb.web", "aws_lb_listener.http"}, order)

	// Destruction order is the exact reverse.
	rev := dag.DestructionOrder()
	assert.Equal(t, "aws_lb_listener.http", rev[0])
	assert.Equal(t, "aws_security_group.lb", rev[2])
}

func TestBuildDAG_StableDeclarationOrder(t *testing.T) {
	// Independent resources keep their declaration order.
	resources := []*ir.Resource{
		res("null_resource", "c", nil, nil),
		res("null_resource", "a", nil, nil),
		res("null_resource", "b", nil, nil),
	}

	dag, err := BuildDAG(resources)
	require.NoError(t, err)
	assert.Equal(t, []string{"null_resource.c", "null_resource.a", "null_resource.b"}, dag.CreationOrder())
}

func TestBuildDAG_CycleError(t *testing.T) {
	resources := []*ir.Resource{
		res("null_resource", "a", []string{"null_resource.b"}, nil),
		res("null_resource", "b", []string{"null_resource.c"}, nil),
		res("null_resource", "c", []string{"null_resource.a"}, nil),
	}

	_, err := BuildDAG(resources)
	require.Error(t, err)

	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	// The path names every participant, first repeated last.
	require.Len(t, cycleErr.Path, 4)
	assert.Equal(t, cycleErr.Path[0], cycleErr.Path[len(cycleErr.Path)-1])
	assert.Contains(t, cycleErr.Path, "null_resource.a")
	assert.Contains(t, cycleErr.Path, "null_resource.b")
	assert.Contains(t, cycleErr.Path, "null_resource.c")
}

func TestBuildDAG_UnresolvedReference(t *testing.T) {
	resources := []*ir.Resource{
		res("null_resource", "a", []string{"null_resource.ghost"}, nil),
	}

	_, err := BuildDAG(resources)
	var refErr *UnresolvedReferenceError
	require.ErrorAs(t, err, &refErr)
	assert.Equal(t, "null_resource.a", refErr.Subject)
	assert.Equal(t, "null_resource.ghost", refErr.Reference)
}

func TestBuildDAG_DependsOnExpandedInstances(t *testing.T) {
	// depends_on naming a counted resource's base address covers all instances.
	resources := []*ir.Resource{
		res("null_resource", "web[0]", nil, nil),
		res("null_resource", "web[1]", nil, nil),
		res("null_resource", "after", []string{"null_resource.web"}, nil),
	}

	dag, err := BuildDAG(resources)
	require.NoError(t, err)
	order := dag.CreationOrder()
	assert.Equal(t, "null_resource.after", order[2])
}

func TestDAG_TransitiveDeps(t *testing.T) {
	resources := []*ir.Resource{
		res("null_resource", "a", nil, nil),
		res("null_resource", "b", []string{"null_resource.a"}, nil),
		res("null_resource", "c", []string{"null_resource.b"}, nil),
	}

	dag, err := BuildDAG(resources)
	require.NoError(t, err)

	deps := dag.TransitiveDeps("null_resource.c")
	assert.ElementsMatch(t, []string{"null_resource.a", "null_resource.b"}, deps)
	assert.Empty(t, dag.TransitiveDeps("null_resource.a"))
}

func TestBuildDAGFromState_ToleratesDanglingDeps(t *testing.T) {
	states := []*ir.ResourceState{
		{Type: "null_resource", Name: "a", Dependencies: []string{"null_resource.gone"}},
		{Type: "null_resource", Name: "b", Dependencies: []string{"null_resource.a"}},
	}

	dag, err := BuildDAGFromState(states)
	require.NoError(t, err)
	assert.Equal(t, []string{"null_resource.b", "null_resource.a"}, dag.DestructionOrder())
}

func TestExtractRefs(t *testing.T) {
	props := map[string]any{
		"a": "ref://aws_vpc.main/id",
		"b": []any{"plain", "ref://aws_subnet.a/id"},
		"c": map[string]any{"nested": "ref://aws_subnet.b/id"},
		"d": 42,
	}

	refs := ExtractRefs(props)
	assert.ElementsMatch(t, []string{
		"ref://aws_vpc.main/id",
		"ref://aws_subnet.a/id",
		"ref://aws_subnet.b/id",
	}, refs)
}

func TestExtractRefs_EmbeddedInString(t *testing.T) {
	// An interpolated reference carries surrounding text; only the
	// placeholder itself is a dependency.
	refs := ExtractRefs("ref://aws_vpc.main/id-subnet")
	assert.Equal(t, []string{"ref://aws_vpc.main/id"}, refs)

	refs = ExtractRefs("prefix-ref://aws_subnet.a/id/suffix")
	assert.Equal(t, []string{"ref://aws_subnet.a/id"}, refs)
}

func TestRefToAddr(t *testing.T) {
	addr, attr := RefToAddr("ref://aws_vpc.main/id")
	assert.Equal(t, "aws_vpc.main", addr)
	assert.Equal(t, "id", attr)

	addr, attr = RefToAddr(`ref://aws_instance.web[0]/private_ip`)
	assert.Equal(t, "aws_instance.web[0]", addr)
	assert.Equal(t, "private_ip", attr)

	addr, _ = RefToAddr("not-a-ref")
	assert.Empty(t, addr)

	addr, _ = RefToAddr("ref://missing-attr")
	assert.Empty(t, addr)
}
