package decode

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	ID        int64          `json:"id"`
	Title     string         `json:"title"`
	Done      bool           `json:"done"`
	CreatedAt time.Time      `json:"created_at"`
	Extra     map[string]any `json:"extra"`
}

func TestDecodeMapFromJSON(t *testing.T) {
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{
		"id": 12,
		"title": "ship it",
		"done": "true",
		"created_at": "2024-05-01T10:00:00Z",
		"extra": "{\"k\":\"v\"}"
	}`), &m))

	r, err := DecodeMap[record](m)
	require.NoError(t, err)
	assert.Equal(t, int64(12), r.ID)
	assert.Equal(t, "ship it", r.Title)
	assert.True(t, r.Done)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), r.CreatedAt.UTC())
	assert.Equal(t, "v", r.Extra["k"])
}

func TestDecodeMapStrict(t *testing.T) {
	_, err := DecodeMap[record](map[string]any{"id": "12"}, WithWeaklyTypedInput(false))
	assert.Error(t, err)

	_, err = DecodeMap[record](nil)
	assert.Error(t, err)
}

func TestReadInt64(t *testing.T) {
	m := map[string]any{"a": float64(3), "b": "4", "c": json.Number("5"), "d": true}

	for key, want := range map[string]int64{"a": 3, "b": 4, "c": 5} {
		got, err := ReadInt64(m, key)
		require.NoError(t, err, key)
		assert.Equal(t, want, got)
	}
	_, err := ReadInt64(m, "d")
	assert.Error(t, err)
	_, err = ReadInt64(m, "missing")
	assert.Error(t, err)
}

func TestReadMap(t *testing.T) {
	m := map[string]any{
		"obj": map[string]any{"x": 1.0},
		"raw": `{"y":2}`,
		"bad": "nope",
	}
	obj, ok := ReadMap(m, "obj")
	require.True(t, ok)
	assert.Equal(t, 1.0, obj["x"])

	raw, ok := ReadMap(m, "raw")
	require.True(t, ok)
	assert.Equal(t, 2.0, raw["y"])

	_, ok = ReadMap(m, "bad")
	assert.False(t, ok)
}
