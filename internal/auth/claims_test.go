package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key-for-jwt-signing-000"

func TestGenerateAndParseToken(t *testing.T) {
	token, err := GenerateToken("beamline-op", RoleOperator, testSecret, 15*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	if token == "" {
		t.Fatal("GenerateToken() returned empty token")
	}

	claims, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "beamline-op" {
		t.Errorf("Subject = %q, want beamline-op", claims.Subject)
	}
	if claims.Role != RoleOperator {
		t.Errorf("Role = %q, want %q", claims.Role, RoleOperator)
	}
	if claims.ID == "" {
		t.Error("JTI (ID) should not be empty")
	}

	ttl := claims.ExpiresAt.Sub(claims.IssuedAt.Time)
	if ttl != 15*time.Minute {
		t.Errorf("ttl = %v, want 15m", ttl)
	}
}

func TestGenerateToken_Defaults(t *testing.T) {
	token, err := GenerateToken("viewer-1", RoleViewer, testSecret, 0)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatal(err)
	}
	if ttl := claims.ExpiresAt.Sub(claims.IssuedAt.Time); ttl != DefaultTokenTTL {
		t.Errorf("ttl = %v, want %v", ttl, DefaultTokenTTL)
	}
}

func TestGenerateToken_Validation(t *testing.T) {
	if _, err := GenerateToken("", RoleViewer, testSecret, time.Minute); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("empty subject error = %v", err)
	}
	if _, err := GenerateToken("x", Role("admin"), testSecret, time.Minute); !errors.Is(err, ErrInvalidRole) {
		t.Errorf("bad role error = %v", err)
	}
}

func TestParseToken_Rejects(t *testing.T) {
	valid, err := GenerateToken("op", RoleOperator, testSecret, time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	signed := func(claims CustomClaims, method jwt.SigningMethod, key any) string {
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		if err != nil {
			t.Fatal(err)
		}
		return s
	}
	past := time.Now().Add(-time.Hour)

	tests := []struct {
		name   string
		token  string
		secret string
	}{
		{"garbage", "not-a-valid-jwt", testSecret},
		{"wrong secret", valid, "another-secret"},
		{"expired", signed(CustomClaims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "op", ExpiresAt: jwt.NewNumericDate(past)},
			Role:             RoleOperator,
		}, jwt.SigningMethodHS256, []byte(testSecret)), testSecret},
		{"missing subject", signed(CustomClaims{Role: RoleViewer}, jwt.SigningMethodHS256, []byte(testSecret)), testSecret},
		{"unknown role", signed(CustomClaims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "op"},
			Role:             "owner",
		}, jwt.SigningMethodHS256, []byte(testSecret)), testSecret},
		{"unsigned", signed(CustomClaims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "op"},
			Role:             RoleOperator,
		}, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType), testSecret},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseToken(tt.token, tt.secret); !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("ParseToken() error = %v, want %v", err, ErrTokenInvalid)
			}
		})
	}
}

func TestPermissions(t *testing.T) {
	tests := []struct {
		role Role
		perm Permission
		want bool
	}{
		{RoleViewer, PermDetectorRead, true},
		{RoleViewer, PermReceiverView, true},
		{RoleViewer, PermDetectorWrite, false},
		{RoleViewer, PermDetectorConnect, false},
		{RoleOperator, PermDetectorWrite, true},
		{RoleOperator, PermDetectorConnect, true},
		{Role("ghost"), PermDetectorRead, false},
	}
	for _, tt := range tests {
		if got := HasPermission(tt.role, tt.perm); got != tt.want {
			t.Errorf("HasPermission(%s, %s) = %v, want %v", tt.role, tt.perm, got, tt.want)
		}
	}

	perms := PermissionsForRole(RoleOperator)
	perms[0] = "mutated"
	if PermissionsForRole(RoleOperator)[0] == "mutated" {
		t.Error("PermissionsForRole() returned the internal slice")
	}
	if PermissionsForRole(Role("ghost")) != nil {
		t.Error("unknown role should have no permissions")
	}
}
