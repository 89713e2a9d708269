package relay

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/modelrelay/modelrelay/internal/apierr"
	"github.com/modelrelay/modelrelay/internal/auth"
	"github.com/modelrelay/modelrelay/internal/catalog"
)

// modelEntry is one row of the catalog listing.
type modelEntry struct {
	ID          string `json:"id"`
	Object      string `json:"object"`
	Created     int64  `json:"created"`
	OwnedBy     string `json:"owned_by"`
	DisplayName string `json:"display_name"`
	MinTier     string `json:"min_tier"`
	Available   bool   `json:"available"`
}

// modelList is the OpenAI-style list envelope.
type modelList struct {
	Object string       `json:"object"`
	Data   []modelEntry `json:"data"`
}

// Models handles GET /v1/models. Every enabled model is listed, optionally
// narrowed by ?search=; entries the caller's tier cannot reach carry
// available=false instead of being hidden.
func (r *Relay) Models(c *gin.Context) {
	identity, okIdentity := auth.IdentityFromContext(c)
	if !okIdentity {
		apierr.RenderJSON(c, apierr.New(apierr.KindUnauthorized, "missing identity"))
		return
	}

	entries, errList := r.resolver.SearchEnabled(c.Request.Context(), c.Query("search"))
	if errList != nil {
		apierr.RenderJSON(c, apierr.Wrap(apierr.KindUpstream, "model listing failed", errList))
		return
	}

	out := modelList{Object: "list", Data: make([]modelEntry, 0, len(entries))}
	for _, entry := range entries {
		ownedBy := ""
		if entry.Provider != nil {
			ownedBy = string(entry.Provider.Type)
		}
		out.Data = append(out.Data, modelEntry{
			ID:          entry.ModelID,
			Object:      "model",
			Created:     entry.CreatedAt.Unix(),
			OwnedBy:     ownedBy,
			DisplayName: entry.DisplayName,
			MinTier:     string(entry.MinTier),
			Available:   catalog.Available(entry, identity.Tier),
		})
	}
	c.JSON(http.StatusOK, out)
}
