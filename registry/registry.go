// Package registry is the authoritative catalog of supported models and a
// credential pre-flight (spec C3). It is read-only after initialization and
// safe to share across goroutines without external locking.
package registry

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/ultraai/orchestrator/model"
)

// ErrNotFound is returned by Resolve when a modelId is unknown.
var ErrNotFound = fmt.Errorf("model not found in registry")

// Registry maps ModelId -> ModelDescriptor.
type Registry struct {
	descriptors map[model.ModelId]model.ModelDescriptor
}

// New builds a Registry from a fixed descriptor list (loaded at process
// start from configuration — see LoadYAML).
func New(descriptors []model.ModelDescriptor) *Registry {
	m := make(map[model.ModelId]model.ModelDescriptor, len(descriptors))
	for _, d := range descriptors {
		m[d.ModelID] = d
	}
	return &Registry{descriptors: m}
}

// Resolve looks up a ModelDescriptor by id.
func (r *Registry) Resolve(id model.ModelId) (model.ModelDescriptor, error) {
	d, ok := r.descriptors[id]
	if !ok {
		return model.ModelDescriptor{}, ErrNotFound
	}
	return d, nil
}

// HasCredential checks presence, not validity, of the configured
// environment variable. A missing credential is the registry's
// no-network-call short-circuit signal.
func (r *Registry) HasCredential(d model.ModelDescriptor) bool {
	return os.Getenv(d.CredentialEnvVar) != ""
}

// ListAvailable returns every registered descriptor whose credential is
// present. Descriptors are held in a map, so the order of the result is not
// defined and does not follow registration order.
func (r *Registry) ListAvailable() []model.ModelDescriptor {
	out := make([]model.ModelDescriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		if r.HasCredential(d) {
			out = append(out, d)
		}
	}
	return out
}

// CapabilityProbe is invoked once per provider kind during DiscoverCapabilities.
type CapabilityProbe func(ctx context.Context, kind model.ProviderKind) error

// DiscoverCapabilities runs probe once per distinct ProviderKind present in
// the registry, in parallel with bounded concurrency (spec §4.3:
// "capability discovery at process start is parallel across providers
// (bounded concurrency), not serial"). Returns the first error encountered,
// if any, after all probes complete.
func (r *Registry) DiscoverCapabilities(ctx context.Context, maxConcurrency int, probe CapabilityProbe) error {
	kinds := make(map[model.ProviderKind]struct{})
	for _, d := range r.descriptors {
		kinds[d.ProviderKind] = struct{}{}
	}

	g, gctx := errgroup.WithContext(ctx)
	if maxConcurrency > 0 {
		g.SetLimit(maxConcurrency)
	}
	for kind := range kinds {
		kind := kind
		g.Go(func() error {
			return probe(gctx, kind)
		})
	}
	return g.Wait()
}
