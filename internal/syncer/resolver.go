package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/starford/appcatalog/internal/apperr"
	"github.com/starford/appcatalog/internal/cache"
	"github.com/starford/appcatalog/internal/models"
)

// OwnerPolicy selects the developer assigned to newly added apps.
type OwnerPolicy string

const (
	// OwnerFirstVerified assigns the earliest verified developer.
	OwnerFirstVerified OwnerPolicy = "first_verified"
	// OwnerFixed assigns a configured developer ID.
	OwnerFixed OwnerPolicy = "fixed"
	// OwnerVendor assigns the verified developer whose name matches the
	// record's vendor, falling back to OwnerFirstVerified.
	OwnerVendor OwnerPolicy = "vendor"
	// OwnerUnassigned leaves the developer empty.
	OwnerUnassigned OwnerPolicy = "unassigned"
)

// ReferenceStore looks up categories and developers.
type ReferenceStore interface {
	CategoryByID(ctx context.Context, id string) (*models.Category, error)
	DeveloperByID(ctx context.Context, id string) (*models.Developer, error)
	FirstVerifiedDeveloper(ctx context.Context) (*models.Developer, error)
	VerifiedDeveloperByName(ctx context.Context, name string) (*models.Developer, error)
}

// Resolver maps source references to catalog IDs. Successful lookups are
// cached; misses are not.
type Resolver struct {
	store  ReferenceStore
	cache  cache.Cache
	policy OwnerPolicy
	fixed  string
	logger *slog.Logger
}

// NewResolver creates a resolver. fixedDeveloper is only used with
// OwnerFixed. A nil cache disables caching.
func NewResolver(store ReferenceStore, c cache.Cache, policy OwnerPolicy, fixedDeveloper string, logger *slog.Logger) *Resolver {
	if c == nil {
		c = cache.Nop{}
	}
	if policy == "" {
		policy = OwnerFirstVerified
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, cache: c, policy: policy, fixed: fixedDeveloper, logger: logger}
}

// Category returns the ID of an existing category.
func (r *Resolver) Category(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("syncer: category missing: %w", apperr.ErrUnresolvedReference)
	}
	return r.cached(ctx, categoryKey(id), func() (string, error) {
		c, err := r.store.CategoryByID(ctx, id)
		if err != nil {
			return "", unresolved("category "+id, err)
		}
		return c.ID, nil
	})
}

// Developer returns the developer ID for a new app under the configured
// policy. An empty ID means the app has no developer.
func (r *Resolver) Developer(ctx context.Context, rec models.SourceRecord) (string, error) {
	switch r.policy {
	case OwnerUnassigned:
		return "", nil
	case OwnerFixed:
		return r.cached(ctx, developerIDKey(r.fixed), func() (string, error) {
			d, err := r.store.DeveloperByID(ctx, r.fixed)
			if err != nil {
				return "", unresolved("developer "+r.fixed, err)
			}
			return d.ID, nil
		})
	case OwnerVendor:
		if rec.Vendor != "" {
			id, err := r.cached(ctx, vendorKey(rec.Vendor), func() (string, error) {
				d, err := r.store.VerifiedDeveloperByName(ctx, rec.Vendor)
				if err != nil {
					return "", unresolved("developer for vendor "+rec.Vendor, err)
				}
				return d.ID, nil
			})
			if err == nil || !errors.Is(err, apperr.ErrUnresolvedReference) {
				return id, err
			}
		}
		return r.firstVerified(ctx)
	default:
		return r.firstVerified(ctx)
	}
}

func (r *Resolver) firstVerified(ctx context.Context) (string, error) {
	return r.cached(ctx, firstVerifiedKey, func() (string, error) {
		d, err := r.store.FirstVerifiedDeveloper(ctx)
		if err != nil {
			return "", unresolved("verified developer", err)
		}
		return d.ID, nil
	})
}

// ForgetCategory drops the cached lookup of category id.
func (r *Resolver) ForgetCategory(ctx context.Context, id string) error {
	return r.cache.Invalidate(ctx, categoryKey(id))
}

// ForgetDeveloper drops every cached lookup that may resolve to d: by ID, by
// vendor name, and the first verified developer.
func (r *Resolver) ForgetDeveloper(ctx context.Context, d models.Developer) error {
	for _, key := range []string{developerIDKey(d.ID), vendorKey(d.Name), firstVerifiedKey} {
		if err := r.cache.Invalidate(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

const firstVerifiedKey = "developer:first-verified"

func categoryKey(id string) string    { return "category:" + id }
func developerIDKey(id string) string { return "developer:id:" + id }
func vendorKey(name string) string    { return "developer:vendor:" + strings.ToLower(name) }

func (r *Resolver) cached(ctx context.Context, key string, load func() (string, error)) (string, error) {
	if b, ok, err := r.cache.Get(ctx, key); err != nil {
		r.logger.Warn("syncer: cache get failed", slog.String("key", key), slog.String("error", err.Error()))
	} else if ok {
		return string(b), nil
	}

	v, err := load()
	if err != nil {
		return "", err
	}
	if err := r.cache.Set(ctx, key, []byte(v)); err != nil {
		r.logger.Warn("syncer: cache set failed", slog.String("key", key), slog.String("error", err.Error()))
	}
	return v, nil
}

// unresolved keeps store failures distinct from missing references.
func unresolved(what string, err error) error {
	if errors.Is(err, apperr.ErrNotFound) {
		return fmt.Errorf("syncer: %s: %w", what, apperr.ErrUnresolvedReference)
	}
	return fmt.Errorf("syncer: lookup %s: %w", what, err)
}
