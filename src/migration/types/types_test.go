package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMigrationVersion(t *testing.T) {
	expected := MigrationVersion(time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC))

	t.Run("listed form", func(t *testing.T) {
		v, err := ParseMigrationVersion("2026-09-01T12:00:00Z")
		require.NoError(t, err)
		assert.True(t, v.Equal(expected))
	})

	t.Run("file name form", func(t *testing.T) {
		v, err := ParseMigrationVersion("2026-09-01T120000Z")
		require.NoError(t, err)
		assert.True(t, v.Equal(expected))
		assert.Equal(t, "2026-09-01T12:00:00Z", v.String())
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := ParseMigrationVersion("yesterday")
		assert.Error(t, err)
	})
}
