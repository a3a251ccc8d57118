package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"

	"github.com/Ivory-cocoa/invoice-qr-scanner/config"
	"github.com/Ivory-cocoa/invoice-qr-scanner/logging"
	"github.com/Ivory-cocoa/invoice-qr-scanner/models"
)

// actorKey is the gin context key holding the authenticated models.Actor.
const actorKey = "actor"

// Anonymous is the identity used when authentication is disabled.
var Anonymous = models.Actor{OrganizationID: "default", UserID: "anonymous"}

// Claims are the JWT claims carried by mobile clients.
type Claims struct {
	OrganizationID string `json:"organization_id"`
	UserID         string `json:"user_id"`
	jwt.RegisteredClaims
}

// GenerateToken signs an HS256 token for the actor.
func GenerateToken(actor models.Actor, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		OrganizationID: actor.OrganizationID,
		UserID:         actor.UserID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Auth resolves the caller's organization and user.
//
// Supports two credentials:
//
//	X-API-Key: <key>                 (service clients, mapped in config)
//	Authorization: Bearer <jwt>      (HS256, organization_id + user_id claims)
//
// When authentication is disabled every request runs as Anonymous.
func Auth(cfg config.AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.Enabled {
			setActor(c, Anonymous)
			c.Next()
			return
		}

		if key := c.GetHeader("X-API-Key"); key != "" {
			actor, ok := actorFromKey(cfg.APIKeys, key)
			if !ok {
				unauthorized(c, "invalid API key")
				return
			}
			setActor(c, actor)
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		if header == "" {
			unauthorized(c, "missing credentials: provide X-API-Key or Authorization: Bearer <token>")
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			unauthorized(c, "invalid authorization header format")
			return
		}

		actor, err := parseToken(parts[1], cfg.JWTSecret)
		if err != nil {
			unauthorized(c, "invalid or expired token")
			return
		}
		setActor(c, actor)
		c.Next()
	}
}

func parseToken(tokenString, secret string) (models.Actor, error) {
	if secret == "" {
		return models.Actor{}, errors.New("jwt secret not configured")
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return models.Actor{}, errors.New("invalid token")
	}
	if claims.OrganizationID == "" || claims.UserID == "" {
		return models.Actor{}, errors.New("token lacks organization or user")
	}
	return models.Actor{OrganizationID: claims.OrganizationID, UserID: claims.UserID}, nil
}

// actorFromKey resolves a configured "organization:user" identity.
func actorFromKey(keys map[string]string, key string) (models.Actor, bool) {
	identity, ok := keys[key]
	if !ok {
		return models.Actor{}, false
	}
	org, user, found := strings.Cut(identity, ":")
	if !found || org == "" || user == "" {
		return models.Actor{}, false
	}
	return models.Actor{OrganizationID: org, UserID: user}, true
}

func setActor(c *gin.Context, actor models.Actor) {
	c.Set(actorKey, actor)
	c.Request = c.Request.WithContext(logging.WithActor(c.Request.Context(), actor.OrganizationID, actor.UserID))
}

// GetActor returns the identity resolved by Auth.
func GetActor(c *gin.Context) models.Actor {
	if v, ok := c.Get(actorKey); ok {
		if actor, ok := v.(models.Actor); ok {
			return actor
		}
	}
	return Anonymous
}

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, models.Fail(&models.ErrorDetail{
		Code:    models.ErrCodeUnauthorized,
		Message: msg,
	}, nil))
}
