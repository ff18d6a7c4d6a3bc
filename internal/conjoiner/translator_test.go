package conjoiner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chemprep/backend/internal/dataset"
	"github.com/chemprep/backend/internal/registry"
)

var nanoProperties = map[string]interface{}{
	"MATERIAL_CHARACTERISATION_SECTION": map[string]interface{}{},
}

func nanoStudy(effects ...registry.Effect) registry.Study {
	return registry.Study{
		Protocol: registry.Protocol{
			Category: registry.Category{Code: "MATERIAL_CHARACTERISATION_SECTION"},
		},
		Effects: effects,
	}
}

func TestPrepareImageEffect(t *testing.T) {
	imageSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/analyze", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "img-payload", r.PostFormValue("image"))

		json.NewEncoder(w).Encode([]map[string]interface{}{
			{"id": "Average Particle", "diameter": "5.0", "aspectRatio": "bad"},
			{"id": "Particle 1", "diameter": "9.0"},
		})
	}))
	defer imageSrv.Close()

	fr := newFakeRegistry(nanoProperties)
	defer fr.server.Close()

	fr.addSubstance("s1", nanoStudy(registry.Effect{
		Endpoint: "IMAGE",
		Result:   registry.Result{TextValue: "img-payload"},
	}))

	c := newTestConjoiner(imageSrv.URL+"/", "")
	res, err := c.Prepare(context.Background(), Options{
		BundleURI:   fr.bundleURI(),
		Descriptors: map[dataset.DescriptorCategory]bool{dataset.Image: true},
	}, nil)
	require.NoError(t, err)

	ds := res.Dataset
	require.Len(t, ds.DataEntry, 1)

	values := ds.DataEntry[0].Values
	require.Len(t, values, 1)

	uri := "http://server.example/feature/image+average+particle+diameter"
	assert.Equal(t, 5.0, values[uri])

	require.Len(t, ds.Features, 1)
	assert.Equal(t, uri, ds.Features[0].URI)
	assert.Equal(t, "diameter", ds.Features[0].Name)
	assert.Equal(t, dataset.Image, ds.Features[0].Category)
	assert.Equal(t, []dataset.DescriptorCategory{dataset.Image}, ds.Descriptors)
}

func TestPrepareImageGateClosed(t *testing.T) {
	fr := newFakeRegistry(nanoProperties)
	defer fr.server.Close()

	fr.addSubstance("s1", nanoStudy(registry.Effect{
		Endpoint: "IMAGE",
		Result:   registry.Result{TextValue: "img-payload"},
	}))

	// no image service configured: the gate must keep us from calling it
	c := newTestConjoiner("", "")
	res, err := c.Prepare(context.Background(), Options{
		BundleURI:   fr.bundleURI(),
		Descriptors: experimentalGate(),
	}, nil)
	require.NoError(t, err)

	assert.Empty(t, res.Dataset.DataEntry[0].Values)
}

func TestPrepareMopacEffect(t *testing.T) {
	fr := newFakeRegistry(nanoProperties)
	defer fr.server.Close()

	featureURI := fr.server.URL + "/feature/f1"

	mopacSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/mopac/calculate", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "http://pdb.example/structure.pdb", r.PostFormValue("pdbfile"))
		assert.Equal(t, "token-1", r.Header.Get("subjectid"))

		json.NewEncoder(w).Encode(map[string]interface{}{featureURI: 42.5})
	}))
	defer mopacSrv.Close()

	fr.addSubstance("s1", nanoStudy(registry.Effect{
		Endpoint: "PDB_CRYSTAL_STRUCTURE",
		Result:   registry.Result{TextValue: "http://pdb.example/structure.pdb"},
	}))
	fr.featureTitles["/feature/f1"] = "Total Energy"

	c := newTestConjoiner("", mopacSrv.URL+"/")
	res, err := c.Prepare(context.Background(), Options{
		BundleURI:   fr.bundleURI(),
		SubjectID:   "token-1",
		Descriptors: map[dataset.DescriptorCategory]bool{dataset.Mopac: true},
	}, nil)
	require.NoError(t, err)

	ds := res.Dataset
	require.Len(t, ds.DataEntry, 1)
	assert.Equal(t, 42.5, ds.DataEntry[0].Values[featureURI])

	require.Len(t, ds.Features, 1)
	assert.Equal(t, featureURI, ds.Features[0].URI)
	assert.Equal(t, "Total Energy", ds.Features[0].Name)
	assert.Equal(t, dataset.Mopac, ds.Features[0].Category)
	assert.Equal(t, []dataset.DescriptorCategory{dataset.Mopac}, ds.Descriptors)
}

func TestPrepareMopacTitleLookupFailure(t *testing.T) {
	fr := newFakeRegistry(nanoProperties)
	defer fr.server.Close()

	// no title registered for this feature: the registry 404s the lookup
	featureURI := fr.server.URL + "/feature/missing-title"

	mopacSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{featureURI: 7.5})
	}))
	defer mopacSrv.Close()

	fr.addSubstance("s1", nanoStudy(registry.Effect{
		Endpoint: "PDB_CRYSTAL_STRUCTURE",
		Result:   registry.Result{TextValue: "http://pdb.example/structure.pdb"},
	}))

	c := newTestConjoiner("", mopacSrv.URL+"/")
	res, err := c.Prepare(context.Background(), Options{
		BundleURI:        fr.bundleURI(),
		Descriptors:      map[dataset.DescriptorCategory]bool{dataset.Mopac: true},
		IntersectColumns: true,
	}, nil)
	require.NoError(t, err)

	ds := res.Dataset
	require.Len(t, ds.DataEntry, 1)
	assert.Equal(t, 7.5, ds.DataEntry[0].Values[featureURI])

	// the stored key must still have a catalog row, named by URI as fallback
	require.Len(t, ds.Features, 1)
	assert.Equal(t, featureURI, ds.Features[0].URI)
	assert.Equal(t, featureURI, ds.Features[0].Name)
	assert.NotEmpty(t, res.Warnings)
}

func TestPrepareMopacInvalidStructureURI(t *testing.T) {
	fr := newFakeRegistry(nanoProperties)
	defer fr.server.Close()

	fr.addSubstance("s1", nanoStudy(registry.Effect{
		Endpoint: "PDB_CRYSTAL_STRUCTURE",
		Result:   registry.Result{TextValue: "not a uri"},
	}))

	c := newTestConjoiner("", "")
	res, err := c.Prepare(context.Background(), Options{
		BundleURI:   fr.bundleURI(),
		Descriptors: map[dataset.DescriptorCategory]bool{dataset.Mopac: true},
	}, nil)
	require.NoError(t, err)

	assert.Empty(t, res.Dataset.DataEntry[0].Values)
	assert.NotEmpty(t, res.Warnings)
}

func TestPrepareProteomics(t *testing.T) {
	fr := newFakeRegistry(map[string]interface{}{
		"PROTEOMICS_SECTION": map[string]interface{}{},
	})
	defer fr.server.Close()

	payload, err := json.Marshal(registry.Proteomics{
		"P12345": registry.Result{LoValue: f(0.75)},
		"Q67890": registry.Result{LoValue: f(1.25)},
	})
	require.NoError(t, err)

	fr.addSubstance("s1", registry.Study{
		Protocol: registry.Protocol{
			Category: registry.Category{Code: "PROTEOMICS_SECTION"},
		},
		Effects: []registry.Effect{{
			Endpoint: "PROTEOMICS",
			Result:   registry.Result{TextValue: string(payload)},
		}},
	})

	c := newTestConjoiner("", "")
	res, err := c.Prepare(context.Background(), Options{
		BundleURI:   fr.bundleURI(),
		Descriptors: experimentalGate(),
	}, nil)
	require.NoError(t, err)

	ds := res.Dataset
	require.Len(t, ds.DataEntry, 1)
	require.Len(t, ds.DataEntry[0].Values, 2)

	names := make(map[string]bool)
	for _, feat := range ds.Features {
		names[feat.Name] = true
		assert.Equal(t, dataset.Experimental, feat.Category)
	}
	assert.True(t, names["P12345"])
	assert.True(t, names["Q67890"])

	found := 0
	for uri, value := range ds.DataEntry[0].Values {
		switch {
		case strings.HasSuffix(uri, "/P12345"):
			assert.Equal(t, 0.75, value)
			found++
		case strings.HasSuffix(uri, "/Q67890"):
			assert.Equal(t, 1.25, value)
			found++
		}
	}
	assert.Equal(t, 2, found)

	assert.Equal(t, []dataset.DescriptorCategory{dataset.Experimental}, ds.Descriptors)
}

func TestPrepareProteomicsGateClosed(t *testing.T) {
	fr := newFakeRegistry(map[string]interface{}{
		"PROTEOMICS_SECTION": map[string]interface{}{},
	})
	defer fr.server.Close()

	fr.addSubstance("s1", registry.Study{
		Protocol: registry.Protocol{Category: registry.Category{Code: "PROTEOMICS_SECTION"}},
		Effects: []registry.Effect{{
			Endpoint: "PROTEOMICS",
			Result:   registry.Result{TextValue: "{}"},
		}},
	})

	c := newTestConjoiner("", "")
	res, err := c.Prepare(context.Background(), Options{
		BundleURI:   fr.bundleURI(),
		Descriptors: map[dataset.DescriptorCategory]bool{dataset.Image: true},
	}, nil)
	require.NoError(t, err)

	assert.Empty(t, res.Dataset.DataEntry[0].Values)
	assert.Empty(t, res.Dataset.Descriptors)
}

func TestPrepareBadProteomicsPayloadWarns(t *testing.T) {
	fr := newFakeRegistry(map[string]interface{}{
		"PROTEOMICS_SECTION": map[string]interface{}{},
	})
	defer fr.server.Close()

	fr.addSubstance("s1", registry.Study{
		Protocol: registry.Protocol{Category: registry.Category{Code: "PROTEOMICS_SECTION"}},
		Effects: []registry.Effect{{
			Endpoint: "PROTEOMICS",
			Result:   registry.Result{TextValue: "not json"},
		}},
	})

	c := newTestConjoiner("", "")
	res, err := c.Prepare(context.Background(), Options{
		BundleURI:   fr.bundleURI(),
		Descriptors: experimentalGate(),
	}, nil)
	require.NoError(t, err)

	assert.Empty(t, res.Dataset.DataEntry[0].Values)
	assert.NotEmpty(t, res.Warnings)
}

func TestToFloat(t *testing.T) {
	v, ok := toFloat("5.5")
	assert.True(t, ok)
	assert.Equal(t, 5.5, v)

	v, ok = toFloat(3.0)
	assert.True(t, ok)
	assert.Equal(t, 3.0, v)

	_, ok = toFloat("Average Particle")
	assert.False(t, ok)

	_, ok = toFloat(nil)
	assert.False(t, ok)
}
