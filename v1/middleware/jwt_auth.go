package middleware

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	sharedutils "github.com/faithconnect/member-service/shared/utils"
	"github.com/faithconnect/member-service/v1/models"
	authutils "github.com/faithconnect/member-service/v1/utils"
	"github.com/golang-jwt/jwt/v5"
)

// JWKS represents the JSON Web Key Set structure
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK represents a single JSON Web Key
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWTAuthConfig contains configuration for JWT authentication
type JWTAuthConfig struct {
	JWKSURL        string
	ExpectedIssuer string
	// ValidClientIDs are the portal applications whose tokens are accepted,
	// matched against the audience or client_id claim
	ValidClientIDs []string
	OrgName        string
	Timeout        time.Duration
}

// Validate checks that the configuration is usable
func (c JWTAuthConfig) Validate() error {
	if c.JWKSURL == "" {
		return errors.New("JWKS URL is required")
	}
	if c.ExpectedIssuer == "" {
		return errors.New("expected issuer is required")
	}
	if len(c.ValidClientIDs) == 0 {
		return errors.New("at least one valid client ID is required")
	}
	for _, id := range c.ValidClientIDs {
		if strings.TrimSpace(id) == "" {
			return errors.New("client IDs must not be empty")
		}
	}
	return nil
}

// JWTAuthMiddleware provides JWT authentication functionality
type JWTAuthMiddleware struct {
	jwksURL        string
	expectedIssuer string
	validClientIDs map[string]struct{}
	orgName        string
	httpClient     *http.Client

	keysMutex sync.RWMutex
	keys      map[string]*rsa.PublicKey
	lastFetch time.Time
}

// NewJWTAuthMiddleware creates a new JWT authentication middleware
func NewJWTAuthMiddleware(config JWTAuthConfig) *JWTAuthMiddleware {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	clientIDs := make(map[string]struct{}, len(config.ValidClientIDs))
	for _, id := range config.ValidClientIDs {
		clientIDs[id] = struct{}{}
	}

	return &JWTAuthMiddleware{
		jwksURL:        config.JWKSURL,
		expectedIssuer: config.ExpectedIssuer,
		validClientIDs: clientIDs,
		orgName:        config.OrgName,
		httpClient:     &http.Client{Timeout: timeout},
		keys:           make(map[string]*rsa.PublicKey),
	}
}

// AuthenticateJWT returns a middleware function that validates JWT tokens
// and stores the caller's user, auth context and session on the request
func (j *JWTAuthMiddleware) AuthenticateJWT(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shouldSkipAuth(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		tokenString, err := authutils.ExtractBearerToken(r)
		if err != nil {
			slog.Warn("Failed to extract bearer token", "error", err, "path", r.URL.Path, "method", r.Method)
			sharedutils.RespondWithError(w, http.StatusUnauthorized, "Invalid or missing authorization header")
			return
		}

		user, authCtx, err := j.validateToken(r.Context(), tokenString)
		if err != nil {
			slog.Warn("Token validation failed", "error", err, "path", r.URL.Path, "method", r.Method)
			sharedutils.RespondWithError(w, http.StatusUnauthorized, "Invalid access token")
			return
		}

		session := models.NewSession(user)
		if err := session.Validate(); err != nil {
			slog.Warn("Authenticated user has no church", "user_id", user.IdpUserID, "path", r.URL.Path)
			sharedutils.RespondWithError(w, http.StatusForbidden, "No church is assigned to this account")
			return
		}

		ctx := authutils.SetAuthenticatedUser(r.Context(), user)
		ctx = authutils.SetAuthContext(ctx, authCtx)
		ctx = authutils.SetSession(ctx, session)

		slog.Debug("User authenticated",
			"user_id", user.IdpUserID,
			"church_id", user.ChurchID,
			"roles", user.Roles,
			"path", r.URL.Path,
			"method", r.Method)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (j *JWTAuthMiddleware) validateToken(ctx context.Context, tokenString string) (*models.AuthenticatedUser, *models.AuthContext, error) {
	if err := j.ensureKeysFresh(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to ensure fresh keys: %w", err)
	}

	claims := &models.UserClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("missing 'kid' in token header")
		}
		return j.publicKey(ctx, kid)
	},
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
		jwt.WithIssuer(j.expectedIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, nil, fmt.Errorf("invalid token claims")
	}

	if err := j.validateClaims(claims); err != nil {
		return nil, nil, fmt.Errorf("claim validation failed: %w", err)
	}

	user := models.NewAuthenticatedUser(claims)
	authCtx := &models.AuthContext{
		User:        user,
		Token:       tokenString,
		IssuedBy:    claims.Issuer,
		Audience:    claims.Audience,
		Permissions: user.GetPermissions(),
	}
	return user, authCtx, nil
}

func (j *JWTAuthMiddleware) validateClaims(claims *models.UserClaims) error {
	if !j.acceptsClient(claims) {
		return fmt.Errorf("token was not issued to an accepted client: aud=%v client_id=%s", claims.Audience, claims.ClientID)
	}
	if j.orgName != "" && claims.OrgName != j.orgName {
		return fmt.Errorf("invalid org_name: expected %s, got %s", j.orgName, claims.OrgName)
	}
	if claims.Subject == "" {
		return fmt.Errorf("subject claim is missing")
	}
	return nil
}

func (j *JWTAuthMiddleware) acceptsClient(claims *models.UserClaims) bool {
	if len(j.validClientIDs) == 0 {
		return true
	}
	if _, ok := j.validClientIDs[claims.ClientID]; ok && claims.ClientID != "" {
		return true
	}
	for _, aud := range claims.Audience {
		if _, ok := j.validClientIDs[aud]; ok {
			return true
		}
	}
	return false
}

// publicKey returns the key for kid, refreshing the JWKS once on a miss
func (j *JWTAuthMiddleware) publicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	j.keysMutex.RLock()
	key, ok := j.keys[kid]
	j.keysMutex.RUnlock()
	if ok {
		return key, nil
	}

	slog.Info("Key not found, refreshing JWKS", "kid", kid)
	if err := j.fetchJWKS(ctx); err != nil {
		return nil, fmt.Errorf("failed to refresh JWKS: %w", err)
	}

	j.keysMutex.RLock()
	defer j.keysMutex.RUnlock()
	if key, ok = j.keys[kid]; !ok {
		return nil, fmt.Errorf("no public key found for kid: %s", kid)
	}
	return key, nil
}

func (j *JWTAuthMiddleware) fetchJWKS(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.httpClient.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, j.jwksURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := j.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read JWKS response: %w", err)
	}

	var jwks JWKS
	if err := json.Unmarshal(body, &jwks); err != nil {
		return fmt.Errorf("failed to parse JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for _, key := range jwks.Keys {
		if key.Kty != "RSA" || (key.Use != "" && key.Use != "sig") {
			continue
		}
		publicKey, err := buildRSAPublicKey(key.N, key.E)
		if err != nil {
			slog.Warn("Failed to build RSA public key", "kid", key.Kid, "error", err)
			continue
		}
		keys[key.Kid] = publicKey
	}

	j.keysMutex.Lock()
	j.keys = keys
	j.lastFetch = time.Now()
	j.keysMutex.Unlock()

	slog.Info("Successfully fetched JWKS", "keys_count", len(keys))
	return nil
}

func buildRSAPublicKey(nStr, eStr string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}

	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)
	if !e.IsInt64() || e.Int64() < 2 {
		return nil, fmt.Errorf("invalid exponent")
	}
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

// ensureKeysFresh refreshes the JWKS when empty or older than an hour
func (j *JWTAuthMiddleware) ensureKeysFresh(ctx context.Context) error {
	j.keysMutex.RLock()
	stale := len(j.keys) == 0 || time.Since(j.lastFetch) > time.Hour
	j.keysMutex.RUnlock()
	if stale {
		return j.fetchJWKS(ctx)
	}
	return nil
}

// shouldSkipAuth reports public paths that carry no bearer token
func shouldSkipAuth(path string) bool {
	skipPaths := []string{
		"/health",
		"/metrics",
		"/favicon.ico",
		"/api/v1/accounts/password-reset/confirm",
	}
	for _, skipPath := range skipPaths {
		if path == skipPath || strings.HasPrefix(path, skipPath+"/") {
			return true
		}
	}
	return false
}
