package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ChatBridge/models"
	"ChatBridge/pkg/cache"

	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"
)

var ErrInvalidToken = errors.New("invalid token")

type AuthUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*AuthUser, error)
}

// JWTAuthenticator verifies platform-issued HS256 tokens locally.
type JWTAuthenticator struct {
	secret []byte
}

func NewJWTAuthenticator(secret string) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret)}
}

func (a *JWTAuthenticator) Authenticate(_ context.Context, tokenStr string) (*AuthUser, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	sub, _ := claims["sub"].(string)
	if strings.TrimSpace(sub) == "" {
		return nil, ErrInvalidToken
	}
	email, _ := claims["email"].(string)
	return &AuthUser{ID: sub, Email: email}, nil
}

// RemoteAuthenticator asks the auth service who owns the token. Answers are
// cached for ttl keyed by a hash of the token.
type RemoteAuthenticator struct {
	baseURL string
	apiKey  string
	client  *http.Client
	cache   *cache.Store[*AuthUser]
	ttl     time.Duration
}

func NewRemoteAuthenticator(baseURL, apiKey string, client *http.Client, c *cache.Store[*AuthUser], ttl time.Duration) *RemoteAuthenticator {
	return &RemoteAuthenticator{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  defaultClient(client),
		cache:   c,
		ttl:     ttl,
	}
}

func (a *RemoteAuthenticator) Authenticate(ctx context.Context, token string) (*AuthUser, error) {
	key := cache.KeyFromStrings("auth-user", token)
	if u, ok := a.cache.Get(key); ok {
		return u, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("apikey", a.apiKey)

	body, err := do(a.client, req)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code < 500 {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("auth lookup: %w", err)
	}
	var u AuthUser
	if err := json.Unmarshal(body, &u); err != nil || u.ID == "" {
		return nil, ErrInvalidToken
	}
	a.cache.Set(key, &u, a.ttl)
	return &u, nil
}

// IsAdmin reports whether the user's profile carries the admin role.
func IsAdmin(ctx context.Context, db *gorm.DB, userID string) (bool, error) {
	var p models.Profile
	err := db.WithContext(ctx).Where("id = ?", userID).Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load profile: %w", err)
	}
	return p.IsAdmin(), nil
}
