package utils

import (
	"testing"
	"time"

	"ledger/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func TestParseToken_Permissions(t *testing.T) {
	tests := []struct {
		name   string
		claims models.UserClaims
		want   []string
	}{
		{
			name:   "absent claim takes role defaults",
			claims: models.UserClaims{UserID: "u1", Role: models.RoleUser},
			want:   models.GetDefaultPermissions(models.RoleUser),
		},
		{
			name:   "explicit list is kept",
			claims: models.UserClaims{UserID: "u1", Role: models.RoleUser, Permissions: []string{models.PermissionWalletRead}},
			want:   []string{models.PermissionWalletRead},
		},
		{
			name:   "explicit empty list grants nothing",
			claims: models.UserClaims{UserID: "u1", Role: models.RoleUser, Permissions: []string{}},
			want:   []string{},
		},
		{
			name:   "unknown role has no defaults",
			claims: models.UserClaims{UserID: "u1", Role: "guest"},
			want:   []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok, err := GenerateToken(testSecret, tt.claims, time.Hour)
			require.NoError(t, err)

			claims, err := ParseToken(testSecret, tok)
			require.NoError(t, err)
			assert.Equal(t, tt.want, claims.Permissions)
		})
	}
}

func TestParseToken_Rejects(t *testing.T) {
	valid, err := GenerateToken(testSecret, models.UserClaims{UserID: "u1"}, time.Hour)
	require.NoError(t, err)
	expired, err := GenerateToken(testSecret, models.UserClaims{UserID: "u1"}, -time.Minute)
	require.NoError(t, err)
	anonymous, err := GenerateToken(testSecret, models.UserClaims{}, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		secret string
		token  string
	}{
		{"wrong secret", "other-secret", valid},
		{"no secret configured", "", valid},
		{"expired", testSecret, expired},
		{"no user id", testSecret, anonymous},
		{"garbage", testSecret, "not.a.token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseToken(tt.secret, tt.token)
			assert.Error(t, err)
		})
	}
}
