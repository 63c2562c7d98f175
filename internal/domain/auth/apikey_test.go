package auth

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockKeyRepo struct {
	byHash map[string]*APIKeyInfo
}

func (m *mockKeyRepo) FindByHash(_ context.Context, hash string) (*APIKeyInfo, error) {
	info, ok := m.byHash[hash]
	if !ok {
		return nil, errors.New("api key not found")
	}
	return info, nil
}

func TestAuthenticator(t *testing.T) {
	pepper := []byte("pepper")
	hash := HashKey(pepper, "till-1-key")

	repo := &mockKeyRepo{byHash: map[string]*APIKeyInfo{
		hash:      {ID: "till-1", KeyHash: hash, Scopes: []string{ScopeSell}},
		"corrupt": {ID: "bad", KeyHash: "zz"},
	}}
	a := NewAuthenticator(repo, pepper)

	tests := []struct {
		name    string
		key     string
		wantID  string
		wantErr bool
	}{
		{name: "valid", key: "till-1-key", wantID: "till-1"},
		{name: "empty", key: "", wantErr: true},
		{name: "unknown", key: "other", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := a.Authenticate(context.Background(), tt.key)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrUnauthorized)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, info.ID)
			assert.True(t, info.HasScope(ScopeSell))
			assert.False(t, info.HasScope(ScopeDrawer))
		})
	}
}

func TestAuthenticator_MismatchedStoredHash(t *testing.T) {
	pepper := []byte("pepper")
	hash := HashKey(pepper, "k")
	repo := &mockKeyRepo{byHash: map[string]*APIKeyInfo{
		hash: {ID: "x", KeyHash: HashKey(pepper, "different")},
	}}

	_, err := NewAuthenticator(repo, pepper).Authenticate(context.Background(), "k")
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestHashKey(t *testing.T) {
	a := HashKey([]byte("p1"), "key")
	assert.Len(t, a, 64)
	assert.Equal(t, a, HashKey([]byte("p1"), "key"))
	assert.NotEqual(t, a, HashKey([]byte("p2"), "key"))
}
