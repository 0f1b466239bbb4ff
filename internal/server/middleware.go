package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"github.com/smallbiznis/stitchery/internal/auth"
	obscontext "github.com/smallbiznis/stitchery/internal/observability/context"
)

const (
	contextUserIDKey   = "user_id"
	contextRoleKey     = "role"
	contextIdentityKey = "identity"
)

// JWTRequired authenticates the bearer token and sets user_id and role.
func (s *Server) JWTRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := s.verifier.Parse(bearerToken(c))
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set(contextUserIDKey, identity.UserID)
		c.Set(contextRoleKey, identity.Role)
		c.Set(contextIdentityKey, identity)
		ctx := obscontext.WithActor(c.Request.Context(), identity.Role, identity.UserID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireStaff admits the admin and service roles.
func (s *Server) RequireStaff() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := identityFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if !identity.IsStaff() {
			AbortWithError(c, ErrForbidden)
			return
		}
		c.Next()
	}
}

// authorizeAction checks the caller's role against the casbin policy.
func (s *Server) authorizeAction(object, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := c.Get(contextRoleKey)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		roleName, _ := role.(string)
		if err := s.authzSvc.Authorize(c.Request.Context(), roleName, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if header != "" {
		scheme, token, found := strings.Cut(header, " ")
		if found && strings.EqualFold(scheme, "bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	// Browsers cannot set headers on a websocket upgrade.
	if c.IsWebsocket() {
		return strings.TrimSpace(c.Query("token"))
	}
	return ""
}

func identityFromContext(c *gin.Context) (*auth.Identity, bool) {
	value, ok := c.Get(contextIdentityKey)
	if !ok {
		return nil, false
	}
	identity, ok := value.(*auth.Identity)
	return identity, ok && identity != nil
}

func userIDFromContext(c *gin.Context) (snowflake.ID, bool) {
	value, ok := c.Get(contextUserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := value.(snowflake.ID)
	return id, ok && id != 0
}

// currentUser returns the authenticated user id or aborts with 401.
func currentUser(c *gin.Context) (snowflake.ID, bool) {
	id, ok := userIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return 0, false
	}
	return id, true
}

// CORS applies the configured origin allow list.
func CORS(origins []string) gin.HandlerFunc {
	allowAll := len(origins) == 0
	for _, origin := range origins {
		if origin == "*" {
			allowAll = true
		}
	}
	options := cors.Options{
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Stripe-Signature", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "Content-Disposition"},
		MaxAge:         600,
	}
	if allowAll {
		options.AllowedOrigins = []string{"*"}
	} else {
		options.AllowedOrigins = origins
		options.AllowCredentials = true
	}
	handler := cors.New(options)

	return func(c *gin.Context) {
		handler.HandlerFunc(c.Writer, c.Request)
		if c.Request.Method == "OPTIONS" && c.GetHeader("Access-Control-Request-Method") != "" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
