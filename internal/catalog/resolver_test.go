package catalog

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/modelrelay/modelrelay/internal/apierr"
	"github.com/modelrelay/modelrelay/internal/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := db.AutoMigrate(&models.Provider{}, &models.Model{}); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return db
}

func seedCatalog(t *testing.T, db *gorm.DB) {
	t.Helper()
	providers := []models.Provider{
		{Name: "OpenAI", Type: models.ProviderTypeOpenAI, APIKey: "sk-test", Enabled: true, SortOrder: 1},
		{Name: "Anthropic", Type: models.ProviderTypeAnthropic, APIKey: "sk-test", Enabled: true, SortOrder: 2},
		{Name: "Dead", Type: models.ProviderTypeGemini, APIKey: "sk-test", Enabled: false, SortOrder: 3},
	}
	for i := range providers {
		// GORM omits zero-value fields carrying a default tag from the INSERT,
		// so Enabled: false would be stored as true; force the intended value.
		enabled := providers[i].Enabled
		if errCreate := db.Create(&providers[i]).Error; errCreate != nil {
			t.Fatalf("create provider: %v", errCreate)
		}
		if errUpdate := db.Model(&providers[i]).Update("enabled", enabled).Error; errUpdate != nil {
			t.Fatalf("set provider enabled: %v", errUpdate)
		}
	}
	entries := []models.Model{
		{ModelID: "gpt-test", UpstreamID: "gpt-test-upstream", ProviderID: providers[0].ID, Enabled: true, DisplayName: "GPT Test"},
		{ModelID: "claude-test", UpstreamID: "claude-test-upstream", ProviderID: providers[1].ID, Enabled: true, MinTier: models.TierPro},
		{ModelID: "retired", UpstreamID: "retired", ProviderID: providers[0].ID, Enabled: false},
		{ModelID: "orphan", UpstreamID: "orphan", ProviderID: providers[2].ID, Enabled: true},
	}
	for i := range entries {
		enabled := entries[i].Enabled
		if errCreate := db.Create(&entries[i]).Error; errCreate != nil {
			t.Fatalf("create model: %v", errCreate)
		}
		if errUpdate := db.Model(&entries[i]).Update("enabled", enabled).Error; errUpdate != nil {
			t.Fatalf("set model enabled: %v", errUpdate)
		}
	}
}

func TestParseModelRef(t *testing.T) {
	ref := ParseModelRef("OpenAI/gpt-test")
	if ref.ProviderType != "openai" || ref.ModelID != "gpt-test" {
		t.Fatalf("unexpected parse: %+v", ref)
	}
	ref = ParseModelRef("gpt-test")
	if ref.ProviderType != "" || ref.ModelID != "gpt-test" {
		t.Fatalf("unexpected bare parse: %+v", ref)
	}
}

func TestResolve_BareAndQualifiedForms(t *testing.T) {
	db := openTestDB(t)
	seedCatalog(t, db)
	r := NewResolver(db)
	ctx := context.Background()

	resolved, err := r.Resolve(ctx, models.TierFree, "gpt-test")
	if err != nil {
		t.Fatalf("resolve bare: %v", err)
	}
	if resolved.Model.UpstreamID != "gpt-test-upstream" {
		t.Fatalf("unexpected model: %+v", resolved.Model)
	}
	if resolved.Provider.Type != models.ProviderTypeOpenAI {
		t.Fatalf("unexpected provider: %+v", resolved.Provider)
	}

	if _, errQualified := r.Resolve(ctx, models.TierFree, "openai/gpt-test"); errQualified != nil {
		t.Fatalf("resolve qualified: %v", errQualified)
	}
	_, err = r.Resolve(ctx, models.TierFree, "anthropic/gpt-test")
	typed, ok := apierr.As(err)
	if !ok || typed.Kind != apierr.KindModelNotFound {
		t.Fatalf("expected model_not_found under wrong family, got %v", err)
	}
}

func TestResolve_DisabledEntriesHidden(t *testing.T) {
	db := openTestDB(t)
	seedCatalog(t, db)
	r := NewResolver(db)
	ctx := context.Background()

	_, err := r.Resolve(ctx, models.TierFree, "retired")
	typed, ok := apierr.As(err)
	if !ok || typed.Kind != apierr.KindModelNotFound {
		t.Fatalf("expected model_not_found for disabled model, got %v", err)
	}

	_, err = r.Resolve(ctx, models.TierFree, "orphan")
	typed, ok = apierr.As(err)
	if !ok || typed.Kind != apierr.KindModelNotFound {
		t.Fatalf("expected model_not_found for disabled provider, got %v", err)
	}
}

func TestResolve_TierGating(t *testing.T) {
	db := openTestDB(t)
	seedCatalog(t, db)
	r := NewResolver(db)
	ctx := context.Background()

	_, err := r.Resolve(ctx, models.TierFree, "claude-test")
	typed, ok := apierr.As(err)
	if !ok || typed.Kind != apierr.KindInsufficientModelPermission {
		t.Fatalf("expected insufficient_model_permission, got %v", err)
	}

	if _, errPro := r.Resolve(ctx, models.TierPro, "claude-test"); errPro != nil {
		t.Fatalf("pro tier should resolve: %v", errPro)
	}
}

func TestListEnabled_SkipsDisabled(t *testing.T) {
	db := openTestDB(t)
	seedCatalog(t, db)
	r := NewResolver(db)

	entries, err := r.ListEnabled(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 enabled entries, got %d", len(entries))
	}
	for _, entry := range entries {
		if entry.Provider == nil {
			t.Fatalf("expected provider preloaded for %s", entry.ModelID)
		}
	}
}

func TestSearchEnabled(t *testing.T) {
	db := openTestDB(t)
	seedCatalog(t, db)
	r := NewResolver(db)
	ctx := context.Background()

	entries, err := r.SearchEnabled(ctx, "GPT")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(entries) != 1 || entries[0].ModelID != "gpt-test" {
		t.Fatalf("expected gpt-test only, got %+v", entries)
	}

	entries, err = r.SearchEnabled(ctx, "")
	if err != nil {
		t.Fatalf("search empty: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("empty term must list everything enabled, got %d", len(entries))
	}
}

func TestAvailable(t *testing.T) {
	entry := models.Model{MinTier: models.TierBasic}
	if Available(entry, models.TierFree) {
		t.Fatalf("free tier must not reach a basic model")
	}
	if !Available(entry, models.TierPro) {
		t.Fatalf("pro tier must reach a basic model")
	}
}
