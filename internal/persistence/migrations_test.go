package persistence

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsAreVersionedAndReversible(t *testing.T) {
	files, err := fs.Glob(migrationFS, migrationsDir+"/*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, name := range files {
		body, err := fs.ReadFile(migrationFS, name)
		require.NoError(t, err)
		assert.Contains(t, string(body), "-- +goose Up", name)
		assert.Contains(t, string(body), "-- +goose Down", name)
	}
}

func TestAuditActionHoldsLongUsernames(t *testing.T) {
	body, err := fs.ReadFile(migrationFS, migrationsDir+"/00002_audit_action_text.sql")
	require.NoError(t, err)

	up := strings.SplitN(string(body), "-- +goose Down", 2)[0]
	assert.Contains(t, up, "ALTER COLUMN action TYPE TEXT")
}
