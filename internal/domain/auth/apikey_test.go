package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashKey(t *testing.T) {
	a := HashKey([]byte("pepper"), "key-1")
	assert.Len(t, a, 64)
	assert.Equal(t, a, HashKey([]byte("pepper"), "key-1"))
	assert.NotEqual(t, a, HashKey([]byte("other"), "key-1"))
	assert.NotEqual(t, a, HashKey([]byte("pepper"), "key-2"))
}

func TestAPIKeyInfo_HasScope(t *testing.T) {
	k := &APIKeyInfo{Scopes: []string{"orders", ScopeAdmin}}
	assert.True(t, k.HasScope(ScopeAdmin))
	assert.False(t, (&APIKeyInfo{}).HasScope(ScopeAdmin))
}
