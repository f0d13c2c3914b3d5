package hasher

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword([]byte("scaleModel"))
	require.NoError(t, err)

	tests := map[string]struct {
		password string
		hash     string
		want     bool
	}{
		"correct":        {password: "scaleModel", hash: hash, want: true},
		"wrong":          {password: "scalemodel", hash: hash},
		"empty password": {password: "", hash: hash},
		"no hash":        {password: "scaleModel", hash: ""},
		"garbage hash":   {password: "scaleModel", hash: "not-bcrypt"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, PasswordCorrect(tt.password, tt.hash))
		})
	}
}

func TestHashPassword_Empty(t *testing.T) {
	_, err := HashPassword(nil)
	assert.ErrorIs(t, err, ErrEmptyPassword)
}

func TestGenerateToken(t *testing.T) {
	a, err := GenerateToken(32)
	require.NoError(t, err)
	b, err := GenerateToken(32)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	raw, err := base64.URLEncoding.DecodeString(a)
	require.NoError(t, err)
	assert.Len(t, raw, 32)
}
