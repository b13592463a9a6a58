package canonjson

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalizeKeyOrderStable(t *testing.T) {
	// Same object, keys permuted at two nesting depths.
	var a, b map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{"b":1,"a":{"y":2,"x":[3,1,2]}}`), &a))
	require.NoError(t, json.Unmarshal([]byte(`{"a":{"x":[3,1,2],"y":2},"b":1}`), &b))

	ca, err := Canonicalize(a)
	require.NoError(t, err)
	cb, err := Canonicalize(b)
	require.NoError(t, err)
	assert.Equal(t, ca, cb)

	// Array order must be preserved, not sorted.
	assert.Contains(t, string(ca), `[3,1,2]`)
}

func TestPayloadHashDeterministic(t *testing.T) {
	h1, err := PayloadHash(map[string]any{"k": "v", "n": 1})
	require.NoError(t, err)
	h2, err := PayloadHash(map[string]any{"n": 1, "k": "v"})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestScopeHash(t *testing.T) {
	h := ScopeHash("STAFF", "s-1", "DEPOSIT", "key-1")
	assert.Equal(t, HashHex([]byte("STAFF|s-1|DEPOSIT|key-1")), h)
	assert.NotEqual(t, h, ScopeHash("STAFF", "s-1", "DEPOSIT", "key-2"))
}
