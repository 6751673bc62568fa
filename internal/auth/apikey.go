package auth

import (
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/faceguard/internal/config"
)

const (
	headerName   = "X-API-Key"
	queryParam   = "api_key"
	principalKey = "auth.principal"
)

// Principal is the caller an API key resolves to.
type Principal struct {
	OrgID uuid.UUID
	Admin bool
}

// Allows reports whether the principal may act on orgID.
func (p Principal) Allows(orgID uuid.UUID) bool {
	return p.Admin || (p.OrgID != uuid.Nil && p.OrgID == orgID)
}

type entry struct {
	key       []byte
	principal Principal
}

// KeyRing holds the configured API keys.
type KeyRing struct {
	entries []entry
}

func NewKeyRing(keys []config.APIKey) (*KeyRing, error) {
	r := &KeyRing{}
	for i, k := range keys {
		if k.Key == "" {
			return nil, fmt.Errorf("api key %d: empty key", i)
		}
		p := Principal{Admin: k.Admin}
		if !k.Admin {
			org, err := uuid.Parse(k.OrgID)
			if err != nil {
				return nil, fmt.Errorf("api key %d: org_id: %w", i, err)
			}
			p.OrgID = org
		}
		r.entries = append(r.entries, entry{key: []byte(k.Key), principal: p})
	}
	return r, nil
}

// Enabled is false when no keys are configured.
func (r *KeyRing) Enabled() bool { return len(r.entries) > 0 }

// Resolve compares against every key so the time taken does not depend on
// which one matched.
func (r *KeyRing) Resolve(provided string) (Principal, bool) {
	var (
		found Principal
		ok    bool
	)
	for _, e := range r.entries {
		if subtle.ConstantTimeCompare([]byte(provided), e.key) == 1 && !ok {
			found, ok = e.principal, true
		}
	}
	return found, ok
}

// APIKeyMiddleware resolves the X-API-Key header (or api_key query
// parameter, for websocket clients) to a Principal. With no keys
// configured every caller is an admin.
func APIKeyMiddleware(ring *KeyRing) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !ring.Enabled() {
			c.Set(principalKey, Principal{Admin: true})
			c.Next()
			return
		}

		provided := c.GetHeader(headerName)
		if provided == "" {
			provided = c.Query(queryParam)
		}
		if provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing API key"})
			return
		}

		p, ok := ring.Resolve(provided)
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid API key"})
			return
		}
		c.Set(principalKey, p)
		c.Next()
	}
}

// FromContext returns the principal set by APIKeyMiddleware.
func FromContext(c *gin.Context) (Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}

// AuthorizeOrg aborts with 403 unless the caller may act on orgID.
func AuthorizeOrg(c *gin.Context, orgID uuid.UUID) bool {
	p, ok := FromContext(c)
	if !ok || !p.Allows(orgID) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "organization not permitted for this key"})
		return false
	}
	return true
}

// RequireAdmin rejects non-admin keys.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := FromContext(c)
		if !ok || !p.Admin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin key required"})
			return
		}
		c.Next()
	}
}
