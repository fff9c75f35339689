package prefixed_uuid

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndRoundTrip(t *testing.T) {
	id := New("mem")
	assert.Equal(t, "mem", id.Prefix)
	assert.False(t, id.IsZero())

	parsed, err := FromString(id.String())
	require.NoError(t, err)
	assert.True(t, id.Equal(parsed))
}

func TestFromStringInvalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"no separator", "mem123"},
		{"empty prefix", "_550e8400-e29b-41d4-a716-446655440000"},
		{"bad uuid", "mem_not-a-uuid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromString(tt.input)
			assert.Error(t, err)
		})
	}
}

func TestHasPrefix(t *testing.T) {
	id := New("snap")
	assert.True(t, HasPrefix(id.String(), "snap"))
	assert.False(t, HasPrefix(id.String(), "mem"))
	assert.False(t, HasPrefix("garbage", "mem"))
}

func TestJSONRoundTrip(t *testing.T) {
	id := New("meta")

	data, err := json.Marshal(id)
	require.NoError(t, err)

	var decoded PrefixedUUID
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, id.Equal(decoded))
}

func TestUnmarshalJSONRejectsNonString(t *testing.T) {
	var decoded PrefixedUUID
	assert.Error(t, json.Unmarshal([]byte("42"), &decoded))
}
