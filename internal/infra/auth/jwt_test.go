package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/healthmate/internal/domain/identity"
)

const testSecret = "s3cret"

func sign(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func TestJWTResolver_Resolve(t *testing.T) {
	r := NewJWTResolver(testSecret, "")
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name     string
		token    string
		wantKind identity.Kind
		wantUser string
	}{
		{"empty", "", identity.Anonymous, ""},
		{"blank", "   ", identity.Anonymous, ""},
		{"user_id", sign(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"user_id": "u-1", "exp": exp}), identity.Resolved, "u-1"},
		{"sub", sign(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"sub": "u-2", "exp": exp}), identity.Resolved, "u-2"},
		{"numeric_id", sign(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"id": 42, "exp": exp}), identity.Resolved, "42"},
		{"no_user_claim", sign(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"exp": exp}), identity.Invalid, ""},
		{"wrong_secret", sign(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"sub": "u"}), identity.Invalid, ""},
		{"expired", sign(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"sub": "u", "exp": time.Now().Add(-time.Hour).Unix()}), identity.Invalid, ""},
		{"garbage", "not.a.jwt", identity.Invalid, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := r.Resolve(context.Background(), tt.token)
			assert.Equal(t, tt.wantKind, id.Kind)
			assert.Equal(t, tt.wantUser, id.UserID)
			if tt.wantKind == identity.Invalid {
				assert.Error(t, id.Err)
			}
		})
	}
}

func TestJWTResolver_RejectsNoneAlgorithm(t *testing.T) {
	r := NewJWTResolver(testSecret, "")
	token := sign(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, jwt.MapClaims{"sub": "u"})

	id := r.Resolve(context.Background(), token)

	assert.Equal(t, identity.Invalid, id.Kind)
}

func TestJWTResolver_Issuer(t *testing.T) {
	r := NewJWTResolver(testSecret, "accounts")

	good := sign(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"sub": "u", "iss": "accounts"})
	bad := sign(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"sub": "u", "iss": "elsewhere"})

	assert.Equal(t, identity.Resolved, r.Resolve(context.Background(), good).Kind)
	assert.Equal(t, identity.Invalid, r.Resolve(context.Background(), bad).Kind)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("bearer   abc "))
	assert.Equal(t, "", BearerToken("Basic abc"))
	assert.Equal(t, "", BearerToken(""))
	assert.Equal(t, "", BearerToken("Bearer "))
}
