package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"dinein_backend/internal/models"
	"dinein_backend/pkg/utils"

	"github.com/gin-gonic/gin"
)

// ActorKey is the gin context key holding the resolved models.Actor.
const ActorKey = "actor"

// Guest sessions identify their seat with these headers (or query
// parameters of the same name in lower case, for websocket upgrades).
const (
	HeaderTableID      = "X-Table-Id"
	HeaderRestaurantID = "X-Restaurant-Id"
	HeaderSessionID    = "X-Session-Id"
)

// HeaderWebhookSecret carries the shared secret of a payment provider
// callback.
const HeaderWebhookSecret = "X-Webhook-Secret"

// AuthMiddleware creates a Gin middleware for JWT authentication.
// Requests without a token continue as a guest customer bound to the table
// named in the guest headers; a bad token is rejected.
func AuthMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := bearerToken(c)
		if err != nil {
			utils.RespondWithError(c, utils.NewAPIError(http.StatusUnauthorized, utils.ErrCodeUnauthorized, "Invalid authorization header format. Use Bearer <token>", ""))
			return
		}
		if tokenString == "" {
			c.Set(ActorKey, guestActor(c))
			c.Next()
			return
		}

		claims, err := utils.ValidateToken(tokenString, secret)
		if err != nil {
			utils.RespondWithError(c, utils.NewAPIError(http.StatusUnauthorized, utils.ErrCodeUnauthorized, "Invalid or expired token", err.Error()))
			return
		}
		role, ok := models.ParseRole(claims.Role)
		if !ok {
			utils.RespondWithError(c, utils.NewAPIError(http.StatusUnauthorized, utils.ErrCodeUnauthorized, "Unknown role in token", claims.Role))
			return
		}

		// Set the resolved actor in the context for downstream handlers
		actor := models.Actor{
			Role:         role,
			UserID:       claims.UserID,
			RestaurantID: claims.RestaurantID,
			TableID:      claims.TableID,
		}
		if role == models.RoleCustomer && actor.TableID == "" {
			actor.TableID = guestActor(c).TableID
		}
		c.Set(ActorKey, actor)
		c.Next()
	}
}

// RoleAuthMiddleware creates a Gin middleware for role-based authorization.
// It checks if the actor's role is one of the allowed roles.
func RoleAuthMiddleware(allowedRoles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, exists := ActorFrom(c)
		if !exists {
			utils.RespondWithError(c, utils.NewAPIError(http.StatusForbidden, utils.ErrCodeForbidden, "Actor not resolved. Ensure AuthMiddleware runs first.", ""))
			return
		}

		for _, r := range allowedRoles {
			if actor.Role == r {
				c.Next()
				return
			}
		}

		names := make([]string, len(allowedRoles))
		for i, r := range allowedRoles {
			names[i] = string(r)
		}
		utils.RespondWithError(c, utils.NewAPIError(http.StatusForbidden, utils.ErrCodeForbidden,
			"You do not have permission to access this resource. Required roles: "+strings.Join(names, ", "), "").
			WithContext(map[string]interface{}{"requiredRoles": names}))
	}
}

// WebhookOrRoleMiddleware admits a request that presents the payment webhook
// secret as the system actor; anything else must hold one of allowedRoles.
// An empty secret disables the webhook path.
func WebhookOrRoleMiddleware(secret string, allowedRoles ...models.Role) gin.HandlerFunc {
	roleGuard := RoleAuthMiddleware(allowedRoles...)
	return func(c *gin.Context) {
		presented := c.GetHeader(HeaderWebhookSecret)
		if presented == "" {
			roleGuard(c)
			return
		}
		if secret == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) != 1 {
			utils.RespondWithError(c, utils.NewAPIError(http.StatusUnauthorized, utils.ErrCodeUnauthorized, "Invalid webhook secret", ""))
			return
		}
		c.Set(ActorKey, models.System)
		c.Next()
	}
}

// ActorFrom returns the actor stored by AuthMiddleware.
func ActorFrom(c *gin.Context) (models.Actor, bool) {
	v, ok := c.Get(ActorKey)
	if !ok {
		return models.Actor{}, false
	}
	actor, ok := v.(models.Actor)
	return actor, ok
}

// bearerToken extracts the token from the Authorization header, falling back
// to the "token" query parameter used by browser websocket clients.
func bearerToken(c *gin.Context) (string, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return c.Query("token"), nil
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", errInvalidHeader
	}
	return parts[1], nil
}

func guestActor(c *gin.Context) models.Actor {
	return models.Actor{
		Role:         models.RoleCustomer,
		TableID:      headerOrQuery(c, HeaderTableID, "tableId"),
		RestaurantID: headerOrQuery(c, HeaderRestaurantID, "restaurantId"),
		SessionID:    headerOrQuery(c, HeaderSessionID, "sessionId"),
	}
}

func headerOrQuery(c *gin.Context, header, query string) string {
	if v := strings.TrimSpace(c.GetHeader(header)); v != "" {
		return v
	}
	return strings.TrimSpace(c.Query(query))
}
