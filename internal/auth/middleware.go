package auth

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/modelrelay/modelrelay/internal/apierr"
	"github.com/modelrelay/modelrelay/internal/config"
	"github.com/modelrelay/modelrelay/internal/models"
	"github.com/modelrelay/modelrelay/internal/settings"
)

const identityContextKey = "gateway.identity"

// Identity is the authenticated caller attached to the request context.
type Identity struct {
	UserID         uint64
	Tier           models.Tier
	MaxCompletions int
	APIKeyID       *uint64
}

// IdentityFromContext returns the identity set by Middleware.
func IdentityFromContext(c *gin.Context) (Identity, bool) {
	value, exists := c.Get(identityContextKey)
	if !exists {
		return Identity{}, false
	}
	identity, ok := value.(Identity)
	return identity, ok
}

// Middleware authenticates requests by bearer credential. A credential with
// two dots is treated as a JWT, anything else as a database API key. Both
// paths load the user row so tier and limits reflect current state.
func Middleware(db *gorm.DB, jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			apierr.RenderJSON(c, apierr.New(apierr.KindUnauthorized, "missing authorization header"))
			return
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			apierr.RenderJSON(c, apierr.New(apierr.KindUnauthorized, "invalid authorization format"))
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			apierr.RenderJSON(c, apierr.New(apierr.KindUnauthorized, "empty credential"))
			return
		}

		var (
			user     models.User
			apiKeyID *uint64
		)
		if strings.Count(token, ".") == 2 {
			claims, errJWT := ParseToken(jwtCfg.Secret, token)
			if errJWT != nil {
				apierr.RenderJSON(c, apierr.New(apierr.KindUnauthorized, "invalid token"))
				return
			}
			if errFind := db.WithContext(c.Request.Context()).First(&user, claims.UserID).Error; errFind != nil {
				apierr.RenderJSON(c, apierr.New(apierr.KindUnauthorized, "user not found"))
				return
			}
		} else {
			var key models.APIKey
			errFind := db.WithContext(c.Request.Context()).
				Where("key = ? AND enabled = ?", token, true).
				First(&key).Error
			if errFind != nil {
				apierr.RenderJSON(c, apierr.New(apierr.KindUnauthorized, "invalid api key"))
				return
			}
			if errUser := db.WithContext(c.Request.Context()).First(&user, key.UserID).Error; errUser != nil {
				apierr.RenderJSON(c, apierr.New(apierr.KindUnauthorized, "user not found"))
				return
			}
			apiKeyID = &key.ID
			touchAPIKey(db, key.ID)
		}

		if !user.Active || user.Disabled {
			apierr.RenderJSON(c, apierr.New(apierr.KindUnauthorized, "account disabled"))
			return
		}

		maxCompletions := user.MaxCompletions
		if maxCompletions <= 0 {
			maxCompletions = settings.DefaultMaxCompletions
		}
		c.Set(identityContextKey, Identity{
			UserID:         user.ID,
			Tier:           models.ParseTier(string(user.Tier)),
			MaxCompletions: maxCompletions,
			APIKeyID:       apiKeyID,
		})
		c.Next()
	}
}

// touchAPIKey records key usage off the request path.
func touchAPIKey(db *gorm.DB, keyID uint64) {
	go func() {
		now := time.Now()
		if errUpdate := db.Model(&models.APIKey{}).
			Where("id = ?", keyID).
			Update("last_used_at", now).Error; errUpdate != nil {
			log.WithError(errUpdate).Warn("auth: failed to record api key usage")
		}
	}()
}
