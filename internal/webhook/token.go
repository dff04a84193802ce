package webhook

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/marminbh/eventsync-svc/internal/models"
)

const (
	tokenIssuer   = "childcare-eventsync"
	tokenAudience = "ai-service"
)

// DeliveryClaims scope a bearer token to one delivery call
type DeliveryClaims struct {
	EventType string `json:"event_type"`
	jwt.RegisteredClaims
}

// SignDeliveryToken issues a short-lived HS256 token for the entry
func SignDeliveryToken(entry *models.SyncLogEntry, secret string, ttl time.Duration, now time.Time) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("signing secret cannot be empty")
	}

	claims := DeliveryClaims{
		EventType: string(entry.EventType),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   entry.ID.String(),
			Audience:  jwt.ClaimStrings{tokenAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign delivery token: %w", err)
	}
	return signed, nil
}

// ParseDeliveryToken validates a token the way a receiver would
func ParseDeliveryToken(raw, secret string, now time.Time) (*DeliveryClaims, error) {
	claims := &DeliveryClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(tokenAudience),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid delivery token: %w", err)
	}
	return claims, nil
}
