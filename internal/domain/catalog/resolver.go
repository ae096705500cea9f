package catalog

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Resolution is the outcome of reconciling free-text names against a catalog
// snapshot. The three sets partition the distinct input names: every name
// lands in exactly one of them.
type Resolution struct {
	// Resolved maps names that matched an existing entry to that entry.
	Resolved map[string]Item
	// Created lists entries registered during this pass, in input order.
	Created []Item
	// Unresolved lists names that neither matched nor could be registered.
	Unresolved []string
}

// Lookup returns the catalog entry backing a name, whether it was matched or
// freshly created in this pass.
func (r *Resolution) Lookup(name string) (Item, bool) {
	if it, ok := r.Resolved[name]; ok {
		return it, true
	}
	for _, it := range r.Created {
		if it.Name == name {
			return it, true
		}
	}
	return Item{}, false
}

// Resolver reconciles user-typed item names with the catalog, transparently
// registering unknown names as new tenant-scoped entries.
type Resolver struct {
	store  Store
	logger *zap.Logger
	tracer trace.Tracer
}

// NewResolver creates a resolver backed by the given store.
func NewResolver(store Store, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		store:  store,
		logger: logger,
		tracer: otel.Tracer("catalog-resolver"),
	}
}

// Reconcile matches names against the snapshot and registers the misses.
//
// Matching is exact and case-sensitive after trimming surrounding whitespace;
// two differently cased names are different entries. Creation runs serially,
// one name at a time, and is best-effort: a failed create logs a warning,
// leaves the name unresolved and moves on. When def is the zero GroupRef no
// creates are attempted at all.
//
// The snapshot is whatever the caller read at call time. Two sessions holding
// stale snapshots can still both register the same name; CreateOrGetItem on
// the store turns that race into returning the winner's row.
func (r *Resolver) Reconcile(ctx context.Context, tenantID string, names []string, snapshot []Item, def GroupRef) Resolution {
	ctx, span := r.tracer.Start(ctx, "catalog_reconcile",
		trace.WithAttributes(
			attribute.Int("names", len(names)),
			attribute.String("default_group", string(def.Group)),
		))
	defer span.End()

	known := make(map[string]Item, len(snapshot))
	folded := make(map[string]string, len(snapshot))
	for _, it := range snapshot {
		known[it.Name] = it
		folded[foldName(it.Name)] = it.Name
	}

	res := Resolution{Resolved: make(map[string]Item)}
	seen := make(map[string]bool, len(names))

	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		if it, ok := known[name]; ok {
			res.Resolved[name] = it
			continue
		}

		if existing, ok := folded[foldName(name)]; ok {
			// Exact matching is the contract; this only flags the likely
			// avoidable duplicate before it is registered.
			r.logger.Warn("catalog name differs only in case or accents from an existing entry",
				zap.String("name", name),
				zap.String("existing", existing))
		}

		if def.IsZero() {
			res.Unresolved = append(res.Unresolved, name)
			continue
		}

		it, created, err := r.store.CreateOrGetItem(ctx, NewItem{
			Name:     name,
			Group:    def.Group,
			ParentID: def.ParentID,
			TenantID: tenantID,
		})
		if err != nil {
			r.logger.Warn("could not register catalog entry",
				zap.String("name", name),
				zap.String("group", string(def.Group)),
				zap.Error(err))
			span.RecordError(err)
			res.Unresolved = append(res.Unresolved, name)
			continue
		}

		if created {
			res.Created = append(res.Created, it)
		} else {
			// Someone else registered the name first; treat it as a match.
			res.Resolved[name] = it
		}
	}

	span.SetAttributes(
		attribute.Int("resolved", len(res.Resolved)),
		attribute.Int("created", len(res.Created)),
		attribute.Int("unresolved", len(res.Unresolved)),
	)
	return res
}
