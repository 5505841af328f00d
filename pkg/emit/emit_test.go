package emit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/kgraph/extractor/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestWrite_ServiceAndOwner: a service and its owner, in insertion
// order, with a reference rendered as {"@id": ...}.
func TestWrite_ServiceAndOwner(t *testing.T) {
	svc := model.NewEntity("urn:Service:payment-api", "Service", "payment-api")
	svc.Properties.Set("owner", model.Reference("urn:User:alice"))
	user := model.NewEntity("urn:User:alice", "User", "Alice")
	user.Properties.Set("email", model.Scalar("alice@example.com"))

	dir := t.TempDir()
	out := filepath.Join(dir, "graph.jsonld")
	require.NoError(t, Write(out, []*model.Entity{svc, user}, nil))

	data, err := os.ReadFile(out)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))

	ctx, ok := doc["@context"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "http://schema.org/", ctx["@vocab"])

	graph, ok := doc["@graph"].([]any)
	require.True(t, ok)
	require.Len(t, graph, 2)

	first := graph[0].(map[string]any)
	assert.Equal(t, "urn:Service:payment-api", first["@id"])
	owner := first["owner"].(map[string]any)
	assert.Equal(t, "urn:User:alice", owner["@id"])

	second := graph[1].(map[string]any)
	assert.Equal(t, "urn:User:alice", second["@id"])
	assert.Equal(t, "alice@example.com", second["email"])
}

func TestWrite_CreatesParentDir(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "nested", "graph.jsonld")
	require.NoError(t, Write(out, nil, nil))
	_, err := os.Stat(out)
	require.NoError(t, err)
}

func TestWrite_EmptyGraph(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "graph.jsonld")
	require.NoError(t, Write(out, nil, nil))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var doc Document
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Empty(t, doc.Graph)
}
