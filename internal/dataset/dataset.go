// Package dataset defines the tabular artifact the conjoiner produces and
// the run-scoped accumulators it is assembled through.
package dataset

import (
	"sort"
	"sync"

	"github.com/chemprep/backend/internal/registry"
)

// DescriptorCategory names the feature derivation pipeline a value came from.
type DescriptorCategory string

const (
	Experimental DescriptorCategory = "EXPERIMENTAL"
	Image        DescriptorCategory = "IMAGE"
	Mopac        DescriptorCategory = "MOPAC"
)

// ParseDescriptorCategory validates a caller-supplied category name.
func ParseDescriptorCategory(s string) (DescriptorCategory, bool) {
	switch DescriptorCategory(s) {
	case Experimental, Image, Mopac:
		return DescriptorCategory(s), true
	}
	return "", false
}

// FeatureInfo describes one column of the dataset. URI is the primary key;
// within a dataset it uniquely determines every other field.
type FeatureInfo struct {
	URI        string                 `json:"uri"`
	Name       string                 `json:"name"`
	Units      string                 `json:"units,omitempty"`
	Conditions map[string]interface{} `json:"conditions,omitempty"`
	Category   DescriptorCategory     `json:"category"`
}

// Values maps feature URIs to scalars, lists of scalars, or nulls. JSON
// marshaling emits map keys in ascending order, which keeps serialized
// entries deterministic.
type Values map[string]interface{}

// Put records a value for a feature URI. A second value for the same URI
// within one substance promotes the entry to a list, preserving insertion
// order.
func (v Values) Put(uri string, value interface{}) {
	old, exists := v[uri]
	if !exists {
		v[uri] = value
		return
	}
	if list, ok := old.([]interface{}); ok {
		v[uri] = append(list, value)
		return
	}
	v[uri] = []interface{}{old, value}
}

// SortedKeys returns the feature URIs of this entry in ascending order.
func (v Values) SortedKeys() []string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DataEntry is one row: a substance plus its feature values.
type DataEntry struct {
	Compound registry.Substance `json:"compound"`
	Values   Values             `json:"values"`
}

// Dataset is the final artifact.
type Dataset struct {
	ID          string               `json:"_id"`
	DataEntry   []DataEntry          `json:"dataEntry"`
	Features    []FeatureInfo        `json:"features"`
	Descriptors []DescriptorCategory `json:"descriptors"`
	Visible     bool                 `json:"visible"`
}

// Catalog is the write-once-per-URI feature set accumulated during a single
// conjoiner run. It is hit from parallel substance workers, so access is
// serialized; the first writer for a URI wins, which keeps the schema stable
// regardless of substance ordering.
type Catalog struct {
	mu       sync.Mutex
	features map[string]FeatureInfo
}

func NewCatalog() *Catalog {
	return &Catalog{features: make(map[string]FeatureInfo)}
}

func (c *Catalog) Register(info FeatureInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.features[info.URI]; !exists {
		c.features[info.URI] = info
	}
}

// Features returns the accumulated catalog sorted by URI.
func (c *Catalog) Features() []FeatureInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]FeatureInfo, 0, len(c.features))
	for _, f := range c.features {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}

// DescriptorSet tracks which descriptor categories actually contributed
// values during a run.
type DescriptorSet struct {
	mu   sync.Mutex
	used map[DescriptorCategory]bool
}

func NewDescriptorSet() *DescriptorSet {
	return &DescriptorSet{used: make(map[DescriptorCategory]bool)}
}

func (d *DescriptorSet) Mark(cat DescriptorCategory) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.used[cat] = true
}

func (d *DescriptorSet) Categories() []DescriptorCategory {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]DescriptorCategory, 0, len(d.used))
	for cat := range d.used {
		out = append(out, cat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
