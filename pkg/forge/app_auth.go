package forge

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AppTokenMinter implements TokenMinter by signing a short-lived app
// JWT (RS256, the same claims shape as the identity package's
// TokenManager) and exchanging it for a repo-scoped installation
// token against the Forge's app-auth endpoint.
type AppTokenMinter struct {
	appID      string
	privateKey *rsa.PrivateKey
	baseURL    string
	http       *http.Client
}

// NewAppTokenMinter parses a PEM-encoded RSA private key and builds a
// minter scoped to appID. A malformed key fails fast at wiring time
// rather than on the first sync pass.
func NewAppTokenMinter(appID, privateKeyPEM, baseURL string) (*AppTokenMinter, error) {
	block, _ := pem.Decode([]byte(privateKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("forge: no PEM block in app private key")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		keyAny, err2 := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err2 != nil {
			return nil, fmt.Errorf("forge: parse app private key: %w", err)
		}
		rsaKey, ok := keyAny.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("forge: app private key is not RSA")
		}
		key = rsaKey
	}
	return &AppTokenMinter{
		appID:      appID,
		privateKey: key,
		baseURL:    baseURL,
		http:       &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// appClaims is the minimal claim set the Forge's app-auth endpoint
// expects: issuer identity plus a tight expiry window.
type appClaims struct {
	jwt.RegisteredClaims
}

func (m *AppTokenMinter) signAppJWT(now time.Time) (string, error) {
	claims := appClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.appID,
			IssuedAt:  jwt.NewNumericDate(now.Add(-30 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(now.Add(9 * time.Minute)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(m.privateKey)
}

type installationTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// InstallationToken mints a repo-scoped installation token. Every
// call signs a fresh app JWT; installation tokens are never cached
// across this call, the caller is expected to hold the returned
// token only as long as one sync or ingest pass needs it.
func (m *AppTokenMinter) InstallationToken(ctx context.Context, owner, repo string) (string, time.Time, error) {
	appJWT, err := m.signAppJWT(time.Now().UTC())
	if err != nil {
		return "", time.Time{}, fmt.Errorf("forge: sign app jwt: %w", err)
	}

	path := fmt.Sprintf("%s/repos/%s/%s/installation/access_tokens", m.baseURL, owner, repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, path, nil)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("forge: build installation token request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+appJWT)
	req.Header.Set("Accept", "application/vnd.forge.v3+json")

	resp, err := m.http.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("forge: installation token request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return "", time.Time{}, fmt.Errorf("forge: installation token request returned %d", resp.StatusCode)
	}
	var out installationTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", time.Time{}, fmt.Errorf("forge: decode installation token: %w", err)
	}
	return out.Token, out.ExpiresAt, nil
}
