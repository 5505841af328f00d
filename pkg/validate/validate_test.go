package validate

import (
	"testing"

	"github.com/kgraph/extractor/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultOpts() Options {
	return Options{StrictURNFormat: true, DetectOrphans: true, DetectBrokenRefs: true}
}

func TestValidate_CleanGraphNoIssues(t *testing.T) {
	svc := model.NewEntity("urn:Service:payment-api", "Service", "payment-api")
	svc.Properties.Set("owner", model.Reference("urn:User:alice"))
	user := model.NewEntity("urn:User:alice", "User", "Alice")

	issues := Validate([]*model.Entity{svc, user}, defaultOpts())
	assert.Empty(t, issues)
}

// A reference to a URN absent from the graph is an error-severity issue.
func TestValidate_BrokenReference(t *testing.T) {
	e := model.NewEntity("urn:Service:payment-api", "Service", "payment-api")
	e.Properties.Set("team", model.Reference("urn:Team:ghost"))

	issues := Validate([]*model.Entity{e}, defaultOpts())
	found := filterField(issues, "reference")
	require.Len(t, found, 1)
	assert.Equal(t, model.SeverityError, found[0].Severity)
	assert.Contains(t, found[0].Message, "urn:Team:ghost")
}

func TestValidate_OrphanDetection(t *testing.T) {
	e := model.NewEntity("urn:Service:lonely", "Service", "lonely")
	issues := Validate([]*model.Entity{e}, defaultOpts())
	found := filterField(issues, "relationships")
	require.Len(t, found, 1)
	assert.Equal(t, model.SeverityWarning, found[0].Severity)
}

func TestValidate_SelfReferenceDoesNotResolveOrphan(t *testing.T) {
	e := model.NewEntity("urn:Service:x", "Service", "X")
	e.Properties.Set("parent", model.Reference("urn:Service:x"))
	issues := Validate([]*model.Entity{e}, defaultOpts())
	assert.Len(t, filterField(issues, "relationships"), 1)
	assert.Empty(t, filterField(issues, "reference"))
}

func TestValidate_InvalidURNStrict(t *testing.T) {
	e := model.NewEntity("not-a-urn", "Service", "X")
	issues := Validate([]*model.Entity{e}, defaultOpts())
	assert.NotEmpty(t, filterField(issues, "@id"))
}

func TestValidate_InvalidType(t *testing.T) {
	e := model.NewEntity("urn:service:x", "service", "X")
	issues := Validate([]*model.Entity{e}, defaultOpts())
	assert.NotEmpty(t, filterField(issues, "@type"))
}

func TestValidate_MissingNameAllowed(t *testing.T) {
	e := &model.Entity{ID: "urn:Service:x", Type: "Service", Properties: model.NewOrderedProperties()}
	issues := Validate([]*model.Entity{e}, Options{StrictURNFormat: true, AllowMissingName: true})
	found := filterField(issues, "name")
	require.Len(t, found, 1)
	assert.Equal(t, model.SeverityWarning, found[0].Severity)
}

func TestValidate_MissingNameRejectedByDefault(t *testing.T) {
	e := &model.Entity{ID: "urn:Service:x", Type: "Service", Properties: model.NewOrderedProperties()}
	issues := Validate([]*model.Entity{e}, Options{StrictURNFormat: true})
	found := filterField(issues, "name")
	require.Len(t, found, 1)
	assert.Equal(t, model.SeverityError, found[0].Severity)
}

func TestValidate_TogglesDisableChecks(t *testing.T) {
	e := model.NewEntity("urn:Service:lonely", "Service", "lonely")
	e.Properties.Set("team", model.Reference("urn:Team:ghost"))
	issues := Validate([]*model.Entity{e}, Options{StrictURNFormat: true})
	assert.Empty(t, issues)
}

func filterField(issues []model.ValidationIssue, field string) []model.ValidationIssue {
	var out []model.ValidationIssue
	for _, i := range issues {
		if i.Field == field {
			out = append(out, i)
		}
	}
	return out
}
