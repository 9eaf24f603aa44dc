package refdata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoad(t *testing.T) {
	t.Run("loads present datasets", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "district_profile.json", `{"district_name": "Test USD", "total_entitlement": 485000}`)
		writeFile(t, dir, "usda_meal_patterns.json", `{"elementary": {"calories": {"min": 550}}}`)

		store, err := Load(dir, zap.NewNop())
		require.NoError(t, err)

		profile := store.Get(DatasetDistrictProfile)
		assert.Equal(t, "Test USD", profile["district_name"])
		assert.Equal(t, 485000.0, profile["total_entitlement"])
	})

	t.Run("missing file degrades to empty document", func(t *testing.T) {
		store, err := Load(t.TempDir(), zap.NewNop())
		require.NoError(t, err)

		doc := store.Get(DatasetCommodities)
		assert.NotNil(t, doc)
		assert.Empty(t, doc)
	})

	t.Run("unparseable file is fatal", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "district_profile.json", `{not json`)

		_, err := Load(dir, zap.NewNop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "district_profile")
	})
}

func TestStoreGet(t *testing.T) {
	store := &Store{docs: map[string]Document{
		"known": {"key": "value"},
	}}

	assert.Equal(t, "value", store.Get("known")["key"])

	// Unknown names yield an empty document, never nil.
	doc := store.Get("unknown")
	assert.NotNil(t, doc)
	assert.Empty(t, doc)
}

func TestStoreSub(t *testing.T) {
	store := &Store{docs: map[string]Document{
		"profile": {
			"demographics": map[string]any{"free_pct": 48.0},
			"name":         "scalar",
		},
	}}

	t.Run("nested mapping", func(t *testing.T) {
		sub := store.Sub("profile", "demographics")
		assert.Equal(t, 48.0, sub["free_pct"])
	})

	t.Run("scalar value yields empty document", func(t *testing.T) {
		assert.Empty(t, store.Sub("profile", "name"))
	})

	t.Run("absent key yields empty document", func(t *testing.T) {
		assert.Empty(t, store.Sub("profile", "missing"))
	})
}
