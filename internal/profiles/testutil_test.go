package profiles_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"readhub/internal/profiles"
	"readhub/pkg/database"
	"readhub/pkg/models"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(database.Config{
		Path: filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

func seedUser(t *testing.T, db *sql.DB) string {
	t.Helper()

	id := uuid.NewString()
	_, err := db.Exec(`
		INSERT INTO users (id, username, email, password_hash)
		VALUES (?, ?, ?, 'x')
	`, id, "user-"+id[:8], id[:8]+"@example.com")
	require.NoError(t, err)
	return id
}

func newEngine(t *testing.T) (*profiles.Engine, string) {
	t.Helper()

	db := newTestDB(t)
	owner := seedUser(t, db)
	engine := profiles.NewEngine(db)

	_, err := engine.EnsureDefault(context.Background(), owner, settings("default"))
	require.NoError(t, err)

	return engine, owner
}

// settings builds a distinguishable opaque payload.
func settings(marker string) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"marker": marker})
	return b
}

func markerOf(t *testing.T, p *models.Profile) string {
	t.Helper()

	var m map[string]string
	require.NoError(t, json.Unmarshal(p.Settings, &m))
	return m["marker"]
}

func strPtr(s string) *string {
	return &s
}
