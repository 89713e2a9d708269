// Package catalog resolves caller-supplied model identifiers against the
// provider/model catalog and enforces tier-based access.
package catalog

import (
	"context"
	"errors"
	"strings"

	"github.com/modelrelay/modelrelay/internal/apierr"
	"github.com/modelrelay/modelrelay/internal/db"
	"github.com/modelrelay/modelrelay/internal/models"
	"gorm.io/gorm"
)

// Resolver reads the catalog store. It never mutates it.
type Resolver struct {
	db *gorm.DB
}

// NewResolver constructs a Resolver.
func NewResolver(db *gorm.DB) *Resolver { return &Resolver{db: db} }

// Resolved pairs a catalog entry with its provider record.
type Resolved struct {
	Model    models.Model
	Provider models.Provider
}

// ModelRef is a parsed caller-supplied model identifier.
type ModelRef struct {
	ProviderType string // Empty for the bare form.
	ModelID      string
}

// ParseModelRef splits a model identifier into its canonical
// provider/model form, or returns the bare id unchanged.
func ParseModelRef(ref string) ModelRef {
	ref = strings.TrimSpace(ref)
	if idx := strings.Index(ref, "/"); idx > 0 && idx < len(ref)-1 {
		return ModelRef{
			ProviderType: strings.ToLower(ref[:idx]),
			ModelID:      ref[idx+1:],
		}
	}
	return ModelRef{ModelID: ref}
}

// Resolve looks up an enabled catalog entry for the reference and checks the
// caller's tier against the model's minimum tier. No side effects.
func (r *Resolver) Resolve(ctx context.Context, tier models.Tier, ref string) (Resolved, error) {
	parsed := ParseModelRef(ref)
	if parsed.ModelID == "" {
		return Resolved{}, apierr.New(apierr.KindInvalidRequest, "model is required")
	}

	query := r.db.WithContext(ctx).
		Joins("Provider").
		Where("models.enabled = ? AND models.model_id = ?", true, parsed.ModelID).
		Where(`"Provider".enabled = ?`, true)
	if parsed.ProviderType != "" {
		query = query.Where(`"Provider".type = ?`, parsed.ProviderType)
	}

	var entry models.Model
	if errFind := query.Order(`"Provider".sort_order ASC, models.id ASC`).
		First(&entry).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return Resolved{}, apierr.Newf(apierr.KindModelNotFound, "model %q not found", ref)
		}
		return Resolved{}, apierr.Wrap(apierr.KindUpstream, "catalog lookup failed", errFind)
	}
	if entry.Provider == nil {
		return Resolved{}, apierr.Newf(apierr.KindModelNotFound, "model %q not found", ref)
	}

	if !tier.AtLeast(entry.MinTier) {
		return Resolved{}, apierr.Newf(apierr.KindInsufficientModelPermission,
			"model %q requires the %s tier", ref, entry.MinTier)
	}

	return Resolved{Model: entry, Provider: *entry.Provider}, nil
}

// ListEnabled returns every enabled catalog entry whose provider is enabled,
// ordered for display.
func (r *Resolver) ListEnabled(ctx context.Context) ([]models.Model, error) {
	var entries []models.Model
	if errFind := r.db.WithContext(ctx).
		Joins("Provider").
		Where("models.enabled = ?", true).
		Where(`"Provider".enabled = ?`, true).
		Order(`"Provider".sort_order ASC, models.model_id ASC`).
		Find(&entries).Error; errFind != nil {
		return nil, errFind
	}
	return entries, nil
}

// SearchEnabled narrows the enabled listing to entries whose id or display
// name matches the term, case-insensitively on either dialect.
func (r *Resolver) SearchEnabled(ctx context.Context, term string) ([]models.Model, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return r.ListEnabled(ctx)
	}
	pattern := db.NormalizeLikePattern(r.db, "%"+term+"%")
	matchID := db.CaseInsensitiveLikeExpr(r.db, "models.model_id")
	matchName := db.CaseInsensitiveLikeExpr(r.db, "models.display_name")

	var entries []models.Model
	if errFind := r.db.WithContext(ctx).
		Joins("Provider").
		Where("models.enabled = ?", true).
		Where(`"Provider".enabled = ?`, true).
		Where(r.db.Where(matchID, pattern).Or(matchName, pattern)).
		Order(`"Provider".sort_order ASC, models.model_id ASC`).
		Find(&entries).Error; errFind != nil {
		return nil, errFind
	}
	return entries, nil
}

// Available reports whether a tier may call the entry.
func Available(entry models.Model, tier models.Tier) bool {
	return tier.AtLeast(entry.MinTier)
}
