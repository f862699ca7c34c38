package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// RoleReader is the only role that may open a practice connection
const RoleReader = "reader"

var (
	ErrInvalidAccessCode = errors.New("invalid access code")
	ErrInvalidToken      = errors.New("invalid token")
)

// JWTClaims represents the claims in our JWT token
type JWTClaims struct {
	ReaderID string `json:"reader_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Issuer signs and validates reader tokens
type Issuer struct {
	secret     []byte
	expiry     time.Duration
	accessCode string
}

// NewIssuer creates an Issuer. An empty access code lets any code in.
func NewIssuer(secret string, expiry time.Duration, accessCode string) (*Issuer, error) {
	if secret == "" {
		return nil, errors.New("JWT secret is required")
	}
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &Issuer{
		secret:     []byte(secret),
		expiry:     expiry,
		accessCode: accessCode,
	}, nil
}

// Expiry is how long issued tokens stay valid
func (i *Issuer) Expiry() time.Duration {
	return i.expiry
}

// ReaderIDFor maps an access code to a stable reader ID so that practice
// history survives across logins
func ReaderIDFor(accessCode string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("betapdoc-reader:"+accessCode)).String()
}

// AuthenticateReader checks the access code and returns a signed token for
// the reader it identifies
func (i *Issuer) AuthenticateReader(accessCode string) (token string, readerID string, expiresAt time.Time, err error) {
	if i.accessCode != "" && subtle.ConstantTimeCompare([]byte(accessCode), []byte(i.accessCode)) != 1 {
		return "", "", time.Time{}, ErrInvalidAccessCode
	}

	readerID = ReaderIDFor(accessCode)
	token, expiresAt, err = i.GenerateReaderToken(readerID)
	if err != nil {
		return "", "", time.Time{}, err
	}
	return token, readerID, expiresAt, nil
}

// GenerateReaderToken generates a JWT token for a reader
func (i *Issuer) GenerateReaderToken(readerID string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(i.expiry)
	claims := &JWTClaims{
		ReaderID: readerID,
		Role:     RoleReader,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   readerID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken validates a JWT token and returns the claims
func (i *Issuer) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Role != RoleReader || claims.ReaderID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
