package dataset

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValuesPutPromotesToList(t *testing.T) {
	v := Values{}

	v.Put("uri", 1.0)
	assert.Equal(t, 1.0, v["uri"])

	v.Put("uri", 2.0)
	require.IsType(t, []interface{}{}, v["uri"])
	assert.Equal(t, []interface{}{1.0, 2.0}, v["uri"])

	v.Put("uri", 3.0)
	assert.Equal(t, []interface{}{1.0, 2.0, 3.0}, v["uri"])
}

func TestValuesSortedKeys(t *testing.T) {
	v := Values{"c": 1, "a": 2, "b": 3}
	assert.Equal(t, []string{"a", "b", "c"}, v.SortedKeys())
}

func TestCatalogFirstWriterWins(t *testing.T) {
	c := NewCatalog()

	c.Register(FeatureInfo{URI: "u1", Name: "first", Category: Experimental})
	c.Register(FeatureInfo{URI: "u1", Name: "second", Category: Image})

	features := c.Features()
	require.Len(t, features, 1)
	assert.Equal(t, "first", features[0].Name)
	assert.Equal(t, Experimental, features[0].Category)
}

func TestCatalogSortedByURI(t *testing.T) {
	c := NewCatalog()
	c.Register(FeatureInfo{URI: "b"})
	c.Register(FeatureInfo{URI: "a"})
	c.Register(FeatureInfo{URI: "c"})

	features := c.Features()
	require.Len(t, features, 3)
	assert.Equal(t, "a", features[0].URI)
	assert.Equal(t, "c", features[2].URI)
}

func TestCatalogConcurrentRegister(t *testing.T) {
	c := NewCatalog()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			c.Register(FeatureInfo{URI: "shared", Name: "writer"})
		}(i)
	}
	wg.Wait()

	assert.Len(t, c.Features(), 1)
}

func TestDescriptorSetCategories(t *testing.T) {
	d := NewDescriptorSet()
	d.Mark(Mopac)
	d.Mark(Experimental)
	d.Mark(Experimental)

	assert.Equal(t, []DescriptorCategory{Experimental, Mopac}, d.Categories())
}

func TestParseDescriptorCategory(t *testing.T) {
	cat, ok := ParseDescriptorCategory("IMAGE")
	assert.True(t, ok)
	assert.Equal(t, Image, cat)

	_, ok = ParseDescriptorCategory("SPECTRAL")
	assert.False(t, ok)
}
