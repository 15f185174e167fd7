// Package identity adapts the external identity provider: a signed bearer
// token carrying the user's stable id, display name and role.
package identity

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"casechat/internal/domain"
)

// Provider validates bearer tokens and yields the authenticated identity.
type Provider struct {
	secret    []byte
	expiresIn time.Duration
}

func NewProvider(secret string, expiresIn time.Duration) *Provider {
	return &Provider{
		secret:    []byte(secret),
		expiresIn: expiresIn,
	}
}

// CreateToken mints a token for the given identity using the default TTL.
func (p *Provider) CreateToken(id domain.Identity) (string, error) {
	return p.CreateTokenWithTTL(id, p.expiresIn)
}

// CreateTokenWithTTL mints a token with an explicit TTL.
func (p *Provider) CreateTokenWithTTL(id domain.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  id.ID,
		"name": id.Name,
		"role": string(id.Role),
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(p.secret)
}

// FromToken validates a token and returns the identity it carries.
func (p *Provider) FromToken(tokenStr string) (*domain.Identity, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return p.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrSignatureInvalid
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, jwt.ErrTokenMalformed
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, jwt.ErrTokenInvalidSubject
	}
	name, _ := claims["name"].(string)
	role, _ := claims["role"].(string)
	return &domain.Identity{
		ID:   sub,
		Name: name,
		Role: domain.SenderRole(role),
	}, nil
}
