package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/aditya/ride-dispatch/internal/errors"
	"github.com/aditya/ride-dispatch/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

const issuer = "ride-dispatch"

type contextKey string

const actorKey = contextKey("actor")

type Claims struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

// JWTManager issues and verifies HS256 actor tokens.
type JWTManager struct {
	secretKey     []byte
	tokenDuration time.Duration
}

func NewJWTManager(secretKey string, tokenDuration time.Duration) *JWTManager {
	return &JWTManager{secretKey: []byte(secretKey), tokenDuration: tokenDuration}
}

func (m *JWTManager) GenerateToken(actor models.Actor) (string, error) {
	now := time.Now()
	claims := Claims{
		ActorID: actor.ID,
		Role:    actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

// Verify returns the actor a token was issued for.
func (m *JWTManager) Verify(tokenString string) (models.Actor, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secretKey, nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return models.Actor{}, fmt.Errorf("%w: %w", apperrors.ErrUnauthorized, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.ActorID == "" || !models.IsValidRole(claims.Role) {
		return models.Actor{}, fmt.Errorf("%w: invalid token claims", apperrors.ErrUnauthorized)
	}
	return models.Actor{ID: claims.ActorID, Role: claims.Role}, nil
}

// TokenFromRequest reads a bearer token, falling back to the token query
// parameter that browsers use for websocket upgrades.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

func WithActor(ctx context.Context, actor models.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

func ActorFrom(ctx context.Context) (models.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(models.Actor)
	return actor, ok
}
