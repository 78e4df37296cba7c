package rpc

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"

	"evlvault/crypto"
)

var (
	errAuthNotConfigured = errors.New("admin authentication not configured")
	errMissingToken      = errors.New("missing bearer token")
	errInvalidToken      = errors.New("invalid admin token")
	errInvalidSubject    = errors.New("token subject is not an address")
)

// adminAuthenticator validates HMAC-signed bearer tokens. The subject claim
// names the admin address the call is made on behalf of; the engine decides
// whether that address is the owner.
type adminAuthenticator struct {
	secret    []byte
	issuer    string
	clockSkew time.Duration
}

func newAdminAuthenticator(secret, issuer string, skew time.Duration) *adminAuthenticator {
	if skew <= 0 {
		skew = 2 * time.Minute
	}
	return &adminAuthenticator{
		secret:    []byte(strings.TrimSpace(secret)),
		issuer:    strings.TrimSpace(issuer),
		clockSkew: skew,
	}
}

func (a *adminAuthenticator) authenticate(r *http.Request) (common.Address, error) {
	if a == nil || len(a.secret) == 0 {
		return common.Address{}, errAuthNotConfigured
	}
	token := extractBearer(r.Header.Get("Authorization"))
	if token == "" {
		return common.Address{}, errMissingToken
	}
	opts := []jwt.ParserOption{
		jwt.WithLeeway(a.clockSkew),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return common.Address{}, errInvalidToken
	}
	caller, err := crypto.ParseAddress(claims.Subject)
	if err != nil {
		return common.Address{}, errInvalidSubject
	}
	return caller, nil
}

// IssueAdminToken mints a token for subject, as used by the CLI and tests.
func IssueAdminToken(secret, issuer string, subject common.Address, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errAuthNotConfigured
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject.Hex(),
		Issuer:    strings.TrimSpace(issuer),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(strings.TrimSpace(secret)))
}

func extractBearer(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
