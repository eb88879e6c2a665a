package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrane-io/terrane/internal/ir"
)

func TestExpandResources_Count(t *testing.T) {
	resources := []*ir.Resource{{
		Type:     "null_resource",
		Name:     "web",
		Provider: "null",
		Count:    3,
		Properties: map[string]any{
			"name": "web-${count.index}",
		},
	}}

	expanded := ExpandResources(resources)
	require.Len(t, expanded, 3)
	assert.Equal(t, "null_resource.web[0]", expanded[0].Addr())
	assert.Equal(t, "web-0", expanded[0].Properties["name"])
	assert.Equal(t, "web-2", expanded[2].Properties["name"])
	assert.Zero(t, expanded[0].Count)
}

func TestExpandResources_ForEach(t *testing.T) {
	resources := []*ir.Resource{{
		Type:     "aws_s3_bucket",
		Name:     "env",
		Provider: "aws",
		ForEach: map[string]any{
			"dev":  "dev-bucket",
			"prod": "prod-bucket",
		},
		Properties: map[string]any{
			"bucket": "${each.value}",
			"tags":   map[string]any{"env": "${each.key}"},
		},
	}}

	expanded := ExpandResources(resources)
	require.Len(t, expanded, 2)

	byAddr := map[string]*ir.Resource{}
	for _, r := range expanded {
		byAddr[r.Addr()] = r
	}
	dev, ok := byAddr[`aws_s3_bucket.env["dev"]`]
	require.True(t, ok)
	assert.Equal(t, "dev-bucket", dev.Properties["bucket"])
	tags := dev.Properties["tags"].(map[string]any)
	assert.Equal(t, "dev", tags["env"])
}

func TestExpandResources_PlainResourceUntouched(t *testing.T) {
	r := &ir.Resource{Type: "null_resource", Name: "one", Provider: "null"}
	expanded := ExpandResources([]*ir.Resource{r})
	require.Len(t, expanded, 1)
	assert.Same(t, r, expanded[0])
}

func TestCloneResourceDeepCopies(t *testing.T) {
	orig := &ir.Resource{
		Type: "null_resource", Name: "a", Provider: "null",
		Count:     2,
		Lifecycle: &ir.Lifecycle{IgnoreChanges: []string{"x"}},
		Properties: map[string]any{
			"nested": map[string]any{"k": "v"},
		},
	}

	clone := cloneResource(orig)
	clone.Properties["nested"].(map[string]any)["k"] = "changed"
	clone.Lifecycle.IgnoreChanges[0] = "y"

	assert.Equal(t, "v", orig.Properties["nested"].(map[string]any)["k"])
	assert.Equal(t, "x", orig.Lifecycle.IgnoreChanges[0])
}
