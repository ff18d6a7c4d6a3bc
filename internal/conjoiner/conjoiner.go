// Package conjoiner walks every substance of a remote bundle, converts each
// study effect into named numeric features, and reconciles the per-substance
// sparse vectors into a single dataset with a shared feature schema.
package conjoiner

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/chemprep/backend/internal/compute/image"
	"github.com/chemprep/backend/internal/compute/mopac"
	"github.com/chemprep/backend/internal/dataset"
	"github.com/chemprep/backend/internal/metrics"
	"github.com/chemprep/backend/internal/registry"
	"github.com/chemprep/backend/pkg/logger"
	"github.com/chemprep/backend/pkg/randid"
)

const datasetIDLength = 12

// Options control a single preparation run.
type Options struct {
	BundleURI        string
	SubjectID        string
	Descriptors      map[dataset.DescriptorCategory]bool
	IntersectColumns bool
	RetainNullValues bool
}

// RemoteServerBase derives the registry base from a bundle URI: everything
// before the "bundle" path component. Locally relative feature URIs are
// prefixed with it so they stay resolvable against the originating registry.
func RemoteServerBase(bundleURI string) (string, error) {
	idx := strings.Index(bundleURI, "bundle")
	if idx < 0 {
		return "", fmt.Errorf("bundle_uri %q does not contain 'bundle'", bundleURI)
	}
	return bundleURI[:idx], nil
}

// Conjoiner drives the end-to-end preparation pipeline.
type Conjoiner struct {
	registry       *registry.Client
	image          *image.Client
	mopac          *mopac.Client
	serverBasePath string
	parallelism    int
}

func New(reg *registry.Client, img *image.Client, mpc *mopac.Client, serverBasePath string, parallelism int) *Conjoiner {
	if parallelism <= 0 {
		parallelism = 8
	}
	return &Conjoiner{
		registry:       reg,
		image:          img,
		mopac:          mpc,
		serverBasePath: serverBasePath,
		parallelism:    parallelism,
	}
}

// run carries the state of one preparation: accumulators are scoped here,
// never on the Conjoiner itself, so concurrent preparations on one instance
// cannot bleed into each other.
type run struct {
	c                  *Conjoiner
	opts               Options
	remoteServerBase   string
	propertyCategories []string
	catalog            *dataset.Catalog
	used               *dataset.DescriptorSet

	warnMu   sync.Mutex
	warnings []string
}

func (r *run) warn(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	logger.Warn("Preparation warning", zap.String("bundle", r.opts.BundleURI), zap.String("detail", msg))
	metrics.EffectsSkipped.Inc()
	r.warnMu.Lock()
	r.warnings = append(r.warnings, msg)
	r.warnMu.Unlock()
}

// Result is the outcome of a successful preparation.
type Result struct {
	Dataset  *dataset.Dataset
	Warnings []string
}

// Prepare fetches the bundle, fans out over its substances and returns the
// reconciled dataset. Recoverable upstream failures are demoted to warnings;
// only cancellation, deadline or bundle-level fetch failures abort the run.
// progress, if non-nil, is called after each substance completes.
func (c *Conjoiner) Prepare(ctx context.Context, opts Options, progress func(done, total int)) (*Result, error) {
	remoteServerBase, err := RemoteServerBase(opts.BundleURI)
	if err != nil {
		return nil, err
	}

	substances, properties, err := c.fetchBundle(ctx, opts)
	if err != nil {
		return nil, err
	}

	categories := make([]string, 0, len(properties))
	for code := range properties {
		categories = append(categories, code)
	}

	r := &run{
		c:                  c,
		opts:               opts,
		remoteServerBase:   remoteServerBase,
		propertyCategories: categories,
		catalog:            dataset.NewCatalog(),
		used:               dataset.NewDescriptorSet(),
	}

	entries, err := r.fanOut(ctx, substances, progress)
	if err != nil {
		return nil, err
	}

	ds := &dataset.Dataset{
		ID:          randid.New(datasetIDLength),
		DataEntry:   entries,
		Features:    r.catalog.Features(),
		Descriptors: r.used.Categories(),
		Visible:     true,
	}

	if opts.IntersectColumns {
		intersectColumns(ds)
	} else {
		unionColumns(ds)
	}

	logger.Info("Bundle prepared",
		zap.String("bundle", opts.BundleURI),
		zap.String("dataset_id", ds.ID),
		zap.Int("rows", len(ds.DataEntry)),
		zap.Int("features", len(ds.Features)),
	)
	metrics.DatasetsPrepared.Inc()

	return &Result{Dataset: ds, Warnings: r.warnings}, nil
}

// fetchBundle loads the substance list and property catalog in parallel.
// Both are required; either failing fails the run.
func (c *Conjoiner) fetchBundle(ctx context.Context, opts Options) ([]registry.Substance, map[string]interface{}, error) {
	var (
		wg         sync.WaitGroup
		substances []registry.Substance
		properties map[string]interface{}
		subErr     error
		propErr    error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		substances, subErr = c.registry.GetSubstances(ctx, opts.BundleURI, opts.SubjectID)
	}()
	go func() {
		defer wg.Done()
		properties, propErr = c.registry.GetProperties(ctx, opts.BundleURI, opts.SubjectID)
	}()
	wg.Wait()

	if subErr != nil {
		return nil, nil, subErr
	}
	if propErr != nil {
		return nil, nil, propErr
	}
	return substances, properties, nil
}

// fanOut assembles every substance with bounded parallelism. Slots are
// indexed by input position so the output order matches the registry's
// substance order regardless of completion order. Substances whose studies
// cannot be fetched are dropped with a warning.
func (r *run) fanOut(ctx context.Context, substances []registry.Substance, progress func(done, total int)) ([]dataset.DataEntry, error) {
	type slot struct {
		entry dataset.DataEntry
		ok    bool
	}

	slots := make([]slot, len(substances))
	sem := make(chan struct{}, r.c.parallelism)

	var (
		wg   sync.WaitGroup
		done int
		mu   sync.Mutex
	)

	for i := range substances {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()

			entry, err := r.assemble(ctx, substances[i])
			if err != nil {
				if ctx.Err() == nil {
					r.warn("substance %s skipped: %v", substances[i].URI, err)
				}
			} else {
				slots[i] = slot{entry: entry, ok: true}
				metrics.SubstancesProcessed.Inc()
			}

			if progress != nil {
				// progress callbacks are serialized under mu
				mu.Lock()
				done++
				progress(done, len(substances))
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries := make([]dataset.DataEntry, 0, len(substances))
	for _, s := range slots {
		if s.ok {
			entries = append(entries, s.entry)
		}
	}
	return entries, nil
}

// intersectColumns restricts every entry to the features observed on all
// entries, then drops catalog rows outside the common set. Equivalent to the
// N-ary intersection of all key sets.
func intersectColumns(ds *dataset.Dataset) {
	if len(ds.DataEntry) == 0 {
		ds.Features = nil
		return
	}

	common := make(map[string]bool)
	for k := range ds.DataEntry[0].Values {
		common[k] = true
	}
	for _, de := range ds.DataEntry[1:] {
		for k := range common {
			if _, ok := de.Values[k]; !ok {
				delete(common, k)
			}
		}
	}

	for _, de := range ds.DataEntry {
		for k := range de.Values {
			if !common[k] {
				delete(de.Values, k)
			}
		}
	}

	kept := ds.Features[:0]
	for _, f := range ds.Features {
		if common[f.URI] {
			kept = append(kept, f)
		}
	}
	ds.Features = kept
}

// unionColumns pads every entry with explicit nulls so all entries share the
// union of observed keys. The catalog is left untouched.
func unionColumns(ds *dataset.Dataset) {
	union := make(map[string]bool)
	for _, de := range ds.DataEntry {
		for k := range de.Values {
			union[k] = true
		}
	}

	for _, de := range ds.DataEntry {
		for k := range union {
			if _, ok := de.Values[k]; !ok {
				de.Values[k] = nil
			}
		}
	}
}
