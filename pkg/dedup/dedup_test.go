package dedup

import (
	"testing"

	"github.com/kgraph/extractor/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entityWithRegion(region string) *model.Entity {
	e := model.NewEntity("urn:Service:x", "Service", "X")
	e.Properties.Set("region", model.Scalar(region))
	return e
}

func TestDedupe_Empty(t *testing.T) {
	res, err := Dedupe(nil, Options{Strategy: StrategyMergeProperties})
	require.NoError(t, err)
	assert.Empty(t, res.Entities)
	assert.Equal(t, 0, res.Metrics.InputCount)
}

func TestDedupe_NoDuplicates(t *testing.T) {
	entities := []*model.Entity{
		model.NewEntity("urn:Service:a", "Service", "A"),
		model.NewEntity("urn:Service:b", "Service", "B"),
	}
	res, err := Dedupe(entities, Options{Strategy: StrategyMergeProperties})
	require.NoError(t, err)
	require.Len(t, res.Entities, 2)
	assert.Equal(t, 0, res.Metrics.DuplicatesFound)
}

func TestDedupe_First(t *testing.T) {
	entities := []*model.Entity{entityWithRegion("us"), entityWithRegion("eu")}
	res, err := Dedupe(entities, Options{Strategy: StrategyFirst})
	require.NoError(t, err)
	require.Len(t, res.Entities, 1)
	v, _ := res.Entities[0].Properties.Get("region")
	assert.Equal(t, "us", v.Scalar)
}

func TestDedupe_Last(t *testing.T) {
	entities := []*model.Entity{entityWithRegion("us"), entityWithRegion("eu")}
	res, err := Dedupe(entities, Options{Strategy: StrategyLast})
	require.NoError(t, err)
	require.Len(t, res.Entities, 1)
	v, _ := res.Entities[0].Properties.Get("region")
	assert.Equal(t, "eu", v.Scalar)
}

// Two chunks each submit the same URN with a differing "region" value;
// merge_properties should promote the conflict into a two-element list.
func TestDedupe_MergePromotesConflictToList(t *testing.T) {
	entities := []*model.Entity{entityWithRegion("us"), entityWithRegion("eu")}
	res, err := Dedupe(entities, Options{Strategy: StrategyMergeProperties})
	require.NoError(t, err)
	require.Len(t, res.Entities, 1)
	assert.Equal(t, 1, res.Metrics.DuplicatesFound)
	assert.Equal(t, 1, res.Metrics.MergeOperations)

	v, ok := res.Entities[0].Properties.Get("region")
	require.True(t, ok)
	require.Equal(t, model.KindList, v.Kind)
	require.Len(t, v.List, 2)
	assert.Equal(t, "us", v.List[0].Scalar)
	assert.Equal(t, "eu", v.List[1].Scalar)
}

func TestDedupe_MergeEqualValuesDoNotDuplicate(t *testing.T) {
	entities := []*model.Entity{entityWithRegion("us"), entityWithRegion("us")}
	res, err := Dedupe(entities, Options{Strategy: StrategyMergeProperties})
	require.NoError(t, err)
	v, _ := res.Entities[0].Properties.Get("region")
	assert.Equal(t, model.KindScalar, v.Kind)
	assert.Equal(t, "us", v.Scalar)
}

func TestDedupe_MergeThirdConflictAppendsToList(t *testing.T) {
	entities := []*model.Entity{entityWithRegion("us"), entityWithRegion("eu"), entityWithRegion("apac")}
	res, err := Dedupe(entities, Options{Strategy: StrategyMergeProperties})
	require.NoError(t, err)
	v, _ := res.Entities[0].Properties.Get("region")
	require.Len(t, v.List, 3)
	assert.Equal(t, "apac", v.List[2].Scalar)
}

func TestDedupe_MergeDescriptionTakesLatestNonEmpty(t *testing.T) {
	a := model.NewEntity("urn:Service:x", "Service", "X")
	b := model.NewEntity("urn:Service:x", "Service", "X")
	b.Description = "second"
	b.HasDesc = true

	res, err := Dedupe([]*model.Entity{a, b}, Options{Strategy: StrategyMergeProperties})
	require.NoError(t, err)
	assert.Equal(t, "second", res.Entities[0].Description)
}

func TestDedupe_PreservesFirstInsertionOrder(t *testing.T) {
	entities := []*model.Entity{
		model.NewEntity("urn:Service:b", "Service", "B"),
		model.NewEntity("urn:Service:a", "Service", "A"),
		model.NewEntity("urn:Service:b", "Service", "B2"),
	}
	res, err := Dedupe(entities, Options{Strategy: StrategyFirst})
	require.NoError(t, err)
	require.Len(t, res.Entities, 2)
	assert.Equal(t, "urn:Service:b", res.Entities[0].ID)
	assert.Equal(t, "urn:Service:a", res.Entities[1].ID)
}

// Deduplicating an already-deduplicated set must be a no-op.
func TestDedupe_Idempotent(t *testing.T) {
	entities := []*model.Entity{entityWithRegion("us"), entityWithRegion("eu")}
	first, err := Dedupe(entities, Options{Strategy: StrategyMergeProperties})
	require.NoError(t, err)
	second, err := Dedupe(first.Entities, Options{Strategy: StrategyMergeProperties})
	require.NoError(t, err)
	require.Len(t, second.Entities, 1)
	v1, _ := first.Entities[0].Properties.Get("region")
	v2, _ := second.Entities[0].Properties.Get("region")
	assert.Equal(t, v1, v2)
}
