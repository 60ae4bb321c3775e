package http

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"guestlist/ticketing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

const principalKey = "principal"

var errUnexpectedSigningMethod = errors.New("unexpected signing method")

type claims struct {
	OrganizationID string `json:"org,omitempty"`
	Role           string `json:"role"`
	jwt.RegisteredClaims
}

// Tokens reads the caller's principal from HS256 bearer tokens issued by the
// identity provider.
type Tokens struct {
	secret []byte
}

func NewTokens(secret string) Tokens {
	return Tokens{
		secret: []byte(secret),
	}
}

func (t Tokens) Sign(p ticketing.Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		OrganizationID: p.OrganizationID,
		Role:           string(p.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})

	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}

	return signed, nil
}

func (t Tokens) Parse(token string) (ticketing.Principal, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errUnexpectedSigningMethod
		}
		return t.secret, nil
	})
	if err != nil {
		return ticketing.Principal{}, fmt.Errorf("parsing token: %w", err)
	}
	if !parsed.Valid {
		return ticketing.Principal{}, errors.New("invalid token")
	}
	if c.Role == "" {
		return ticketing.Principal{}, errors.New("token has no role")
	}

	return ticketing.Principal{
		UserID:         c.Subject,
		OrganizationID: c.OrganizationID,
		Role:           ticketing.Role(c.Role),
	}, nil
}

// principalMiddleware treats requests without a bearer token as anonymous
// buyers and rejects requests with a bad one.
func principalMiddleware(tokens Tokens) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if header == "" {
				c.Set(principalKey, ticketing.Anonymous)
				return next(c)
			}

			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				return &echo.HTTPError{
					Code:    http.StatusUnauthorized,
					Message: "expected a bearer token",
				}
			}

			p, err := tokens.Parse(token)
			if err != nil {
				return &echo.HTTPError{
					Code:     http.StatusUnauthorized,
					Message:  "invalid token",
					Internal: err,
				}
			}

			c.Set(principalKey, p)
			return next(c)
		}
	}
}

func principal(c echo.Context) ticketing.Principal {
	if p, ok := c.Get(principalKey).(ticketing.Principal); ok {
		return p
	}
	return ticketing.Anonymous
}
