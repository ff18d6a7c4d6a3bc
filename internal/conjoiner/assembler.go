package conjoiner

import (
	"context"
	"strings"

	"github.com/chemprep/backend/internal/dataset"
	"github.com/chemprep/backend/internal/registry"
)

const proteomicsSection = "PROTEOMICS_SECTION"

// assemble fetches one substance's studies and folds every admissible effect
// into a single ordered value map. Effects within a substance run
// sequentially: they share the value map, and sequencing keeps collision
// lists in a deterministic order without locking.
func (r *run) assemble(ctx context.Context, substance registry.Substance) (dataset.DataEntry, error) {
	studies, err := r.c.registry.GetStudies(ctx, substance.URI, r.opts.SubjectID)
	if err != nil {
		return dataset.DataEntry{}, err
	}

	values := dataset.Values{}

	for _, study := range studies {
		code := study.Protocol.Category.Code
		if !r.categorySelected(code) {
			continue
		}

		if code == proteomicsSection {
			if r.opts.Descriptors[dataset.Experimental] {
				r.translateProteomics(study, values)
				r.used.Mark(dataset.Experimental)
			}
			continue
		}

		for _, effect := range study.Effects {
			if err := ctx.Err(); err != nil {
				return dataset.DataEntry{}, err
			}
			r.translateEffect(ctx, study, effect, values)
		}
	}

	return dataset.DataEntry{Compound: substance, Values: values}, nil
}

// categorySelected gates a study by its protocol category code. Substring
// containment against the property catalog keys mirrors the registry's
// key format, where codes are embedded in longer catalog identifiers.
func (r *run) categorySelected(code string) bool {
	for _, c := range r.propertyCategories {
		if strings.Contains(c, code) {
			return true
		}
	}
	return false
}
