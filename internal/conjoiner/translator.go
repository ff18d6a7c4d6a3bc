package conjoiner

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/chemprep/backend/internal/compute/image"
	"github.com/chemprep/backend/internal/dataset"
	"github.com/chemprep/backend/internal/feature"
	"github.com/chemprep/backend/internal/registry"
)

const (
	imageEndpoint = "IMAGE"
	pdbEndpoint   = "PDB_CRYSTAL_STRUCTURE"
)

// translateEffect routes a single effect to the matching sub-pipeline and
// contributes its (featureURI, value) pairs to values. Every route tolerates
// its own failures: a bad effect is warned about and skipped, never allowed
// to poison the rest of the substance.
func (r *run) translateEffect(ctx context.Context, study registry.Study, effect registry.Effect, values dataset.Values) {
	switch effect.Endpoint {
	case imageEndpoint:
		if r.opts.Descriptors[dataset.Image] {
			r.translateImage(ctx, effect, values)
		}
	case pdbEndpoint:
		if r.opts.Descriptors[dataset.Mopac] {
			r.translateMopac(ctx, effect, values)
		}
	default:
		if r.opts.Descriptors[dataset.Experimental] {
			r.translateExperimental(study, effect, values)
		}
	}
}

// translateExperimental reduces a quantitative measurement to a scalar keyed
// by a stable derived URI. Repeated effects mapping to the same URI within
// one substance accumulate into a list.
func (r *run) translateExperimental(study registry.Study, effect registry.Effect, values dataset.Values) {
	name := effect.Endpoint
	units := effect.Result.Unit
	conditions := serializeConditions(effect.Conditions)

	identifier := feature.HashedIdentifier(name, units, conditions)
	relative := feature.RelativeURI(
		name,
		study.Protocol.Topcategory,
		study.Protocol.Category.Code,
		identifier,
		firstGuideline(study.Protocol.Guideline),
	)

	var value interface{}
	if v := feature.ReduceValue(effect.Result); v != nil {
		value = *v
	} else if !r.opts.RetainNullValues {
		return
	}

	propertyKey := r.remoteServerBase + relative
	values.Put(propertyKey, value)

	r.catalog.Register(dataset.FeatureInfo{
		URI:        propertyKey,
		Name:       name,
		Units:      units,
		Conditions: effect.Conditions,
		Category:   dataset.Experimental,
	})
	r.used.Mark(dataset.Experimental)
}

// translateProteomics expands the protein abundance table carried in the
// first effect's textValue: one feature per protein, addressed by the base
// property URI extended with the protein identifier.
func (r *run) translateProteomics(study registry.Study, values dataset.Values) {
	if len(study.Effects) == 0 {
		return
	}
	effect := study.Effects[0]

	var proteomics registry.Proteomics
	if err := json.Unmarshal([]byte(effect.Result.TextValue), &proteomics); err != nil {
		r.warn("unparsable proteomics payload for endpoint %s: %v", effect.Endpoint, err)
		return
	}

	name := effect.Endpoint
	units := effect.Result.Unit
	conditions := serializeConditions(effect.Conditions)
	identifier := feature.HashedIdentifier(name, units, conditions)
	relative := feature.RelativeURI(
		name,
		study.Protocol.Topcategory,
		study.Protocol.Category.Code,
		identifier,
		firstGuideline(study.Protocol.Guideline),
	)

	for proteinID, result := range proteomics {
		uri := r.remoteServerBase + relative + "/" + proteinID

		var value interface{}
		if result.LoValue != nil {
			value = *result.LoValue
		}
		values[uri] = value

		r.catalog.Register(dataset.FeatureInfo{
			URI:      uri,
			Name:     proteinID,
			Category: dataset.Experimental,
		})
	}
}

// translateImage sends the image payload off for particle analysis and turns
// every numeric field of the aggregate "Average Particle" into a feature.
func (r *run) translateImage(ctx context.Context, effect registry.Effect, values dataset.Values) {
	particles, err := r.c.image.Analyze(ctx, effect.Result.TextValue)
	if err != nil {
		r.warn("image analysis skipped: %v", err)
		return
	}

	for _, particle := range particles {
		if particle["id"] != image.AverageParticleID {
			continue
		}

		for key, raw := range particle {
			value, ok := toFloat(raw)
			if !ok {
				continue
			}

			descriptorID := url.QueryEscape("image average particle " + key)
			uri := r.c.serverBasePath + "feature/" + descriptorID
			values[uri] = value

			r.catalog.Register(dataset.FeatureInfo{
				URI:      uri,
				Name:     key,
				Category: dataset.Image,
			})
		}
		r.used.Mark(dataset.Image)
	}
}

// translateMopac runs a quantum-chemistry calculation on a PDB structure and
// incorporates the returned descriptors, resolving each remote feature URI
// to its title for the catalog.
func (r *run) translateMopac(ctx context.Context, effect registry.Effect, values dataset.Values) {
	if _, err := url.ParseRequestURI(effect.Result.TextValue); err != nil {
		r.warn("invalid PDB structure URI %q: %v", effect.Result.TextValue, err)
		return
	}

	descriptors, err := r.c.mopac.Calculate(ctx, effect.Result.TextValue, r.opts.SubjectID)
	if err != nil {
		r.warn("mopac calculation skipped: %v", err)
		return
	}

	for key, value := range descriptors {
		values[key] = value

		// a catalog row must exist for every stored key; fall back to the
		// URI as the name when the title cannot be resolved
		name := key
		title, err := r.c.registry.GetFeatureTitle(ctx, key, r.opts.SubjectID)
		if err != nil {
			r.warn("feature title lookup failed for %s: %v", key, err)
		} else {
			name = title
		}

		r.catalog.Register(dataset.FeatureInfo{
			URI:      key,
			Name:     name,
			Category: dataset.Mopac,
		})
	}
	r.used.Mark(dataset.Mopac)
}

func serializeConditions(conditions map[string]interface{}) string {
	if conditions == nil {
		return ""
	}
	// encoding/json sorts map keys, so equal condition maps always
	// serialize identically and hash to the same identifier
	b, err := json.Marshal(conditions)
	if err != nil {
		return ""
	}
	return string(b)
}

func firstGuideline(guidelines []string) string {
	if len(guidelines) == 0 {
		return ""
	}
	return guidelines[0]
}

func toFloat(raw interface{}) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
