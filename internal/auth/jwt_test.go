package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestNewIssuer_RequiresSecret(t *testing.T) {
	if _, err := NewIssuer("", time.Hour, ""); err == nil {
		t.Fatal("expected error without secret")
	}
}

func TestAuthenticateReader(t *testing.T) {
	issuer, err := NewIssuer("secret", time.Hour, "hoa-mai")
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}

	if _, _, _, err := issuer.AuthenticateReader("wrong"); !errors.Is(err, ErrInvalidAccessCode) {
		t.Fatalf("expected ErrInvalidAccessCode, got %v", err)
	}

	token, readerID, expiresAt, err := issuer.AuthenticateReader("hoa-mai")
	if err != nil {
		t.Fatalf("AuthenticateReader: %v", err)
	}
	if readerID != ReaderIDFor("hoa-mai") {
		t.Errorf("reader ID is not derived from the access code")
	}
	if time.Until(expiresAt) > time.Hour || time.Until(expiresAt) < 59*time.Minute {
		t.Errorf("unexpected expiry %v", expiresAt)
	}

	claims, err := issuer.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.ReaderID != readerID || claims.Role != RoleReader {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestReaderIDFor_Stable(t *testing.T) {
	if ReaderIDFor("abc") != ReaderIDFor("abc") {
		t.Error("reader ID should be stable")
	}
	if ReaderIDFor("abc") == ReaderIDFor("abd") {
		t.Error("different codes should map to different readers")
	}
}

func TestValidateToken_Rejects(t *testing.T) {
	issuer, _ := NewIssuer("secret", time.Hour, "")
	other, _ := NewIssuer("other-secret", time.Hour, "")

	token, _, err := other.GenerateReaderToken("reader-1")
	if err != nil {
		t.Fatalf("GenerateReaderToken: %v", err)
	}
	if _, err := issuer.ValidateToken(token); err == nil {
		t.Error("expected token signed with another secret to be rejected")
	}

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, &JWTClaims{
		ReaderID: "reader-1",
		Role:     RoleReader,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	signed, _ := expired.SignedString([]byte("secret"))
	if _, err := issuer.ValidateToken(signed); err == nil {
		t.Error("expected expired token to be rejected")
	}

	wrongRole := jwt.NewWithClaims(jwt.SigningMethodHS256, &JWTClaims{
		ReaderID: "reader-1",
		Role:     "device",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	})
	signed, _ = wrongRole.SignedString([]byte("secret"))
	if _, err := issuer.ValidateToken(signed); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for wrong role, got %v", err)
	}

	if _, err := issuer.ValidateToken("not-a-token"); err == nil {
		t.Error("expected garbage token to be rejected")
	}
}
