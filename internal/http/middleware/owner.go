package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/labreport-backend/internal/http/response"
	"github.com/yungbote/labreport-backend/internal/pkg/ctxutil"
)

const (
	headerOwnerID = "X-Owner-Id"
	ownerKey      = "owner_id"
)

// Owner reads the caller's owner id from X-Owner-Id or ?owner_id=. A missing
// value is allowed; a malformed one is rejected.
func Owner() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(headerOwnerID))
		if raw == "" {
			raw = strings.TrimSpace(c.Query(ownerKey))
		}
		if raw == "" {
			c.Next()
			return
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_owner_id", errors.New("owner id must be a uuid"))
			return
		}
		c.Set(ownerKey, id)
		if req := ctxutil.RequestFrom(c.Request.Context()); req != nil {
			req.OwnerID = id.String()
		}
		c.Next()
	}
}

// OwnerID returns the id set by Owner, or uuid.Nil.
func OwnerID(c *gin.Context) uuid.UUID {
	if v, ok := c.Get(ownerKey); ok {
		if id, ok := v.(uuid.UUID); ok {
			return id
		}
	}
	return uuid.Nil
}
