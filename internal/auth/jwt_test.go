package auth

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSeed = "0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f20"

func TestJWTManager_RoundTrip(t *testing.T) {
	m, err := NewJWTManager(testSeed)
	require.NoError(t, err)

	resp, err := m.GenerateToken(context.Background(), "ops@example.com", RoleOperator)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Token)

	claims, err := m.VerifyToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", claims.Subject)
	assert.Equal(t, RoleOperator, claims.Role)
	assert.Equal(t, "mcpfleet", claims.Issuer)
}

func TestJWTManager_BadSeed(t *testing.T) {
	_, err := NewJWTManager("not-hex")
	assert.Error(t, err)

	_, err = NewJWTManager("abcd")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "32 bytes")
}

func TestJWTManager_UnknownRole(t *testing.T) {
	m, err := NewJWTManager(testSeed)
	require.NoError(t, err)

	_, err = m.GenerateToken(context.Background(), "x", Role("superuser"))
	assert.Error(t, err)
}

func TestJWTManager_RejectsTamperedToken(t *testing.T) {
	m, err := NewJWTManager(testSeed)
	require.NoError(t, err)

	resp, err := m.GenerateToken(context.Background(), "x", RoleViewer)
	require.NoError(t, err)

	parts := strings.Split(resp.Token, ".")
	require.Len(t, parts, 3)
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))

	_, err = m.VerifyToken(tampered)
	assert.Error(t, err)
}

func TestJWTManager_RejectsForeignKey(t *testing.T) {
	m1, err := NewJWTManager(testSeed)
	require.NoError(t, err)
	m2, err := NewJWTManager("ff02030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f20")
	require.NoError(t, err)

	resp, err := m1.GenerateToken(context.Background(), "x", RoleAdmin)
	require.NoError(t, err)

	_, err = m2.VerifyToken(resp.Token)
	assert.Error(t, err)
}

func TestRole_Allows(t *testing.T) {
	assert.True(t, RoleAdmin.Allows(RoleOperator))
	assert.True(t, RoleOperator.Allows(RoleViewer))
	assert.True(t, RoleViewer.Allows(RoleViewer))
	assert.False(t, RoleViewer.Allows(RoleOperator))
	assert.False(t, RoleOperator.Allows(RoleAdmin))
}

func TestRequireRole_Disabled(t *testing.T) {
	assert.NoError(t, RequireRole(context.Background(), false, RoleAdmin))
}

func TestRequireRole_MissingClaims(t *testing.T) {
	assert.Error(t, RequireRole(context.Background(), true, RoleViewer))
}
