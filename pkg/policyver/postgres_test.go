package policyver

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPGStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS policy_versions").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE UNIQUE INDEX IF NOT EXISTS idx_one_draft_per_template").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE UNIQUE INDEX IF NOT EXISTS idx_one_published_per_template").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE UNIQUE INDEX IF NOT EXISTS idx_version_number_per_template").WillReturnResult(sqlmock.NewResult(0, 0))

	store, err := NewPostgresStore(db)
	require.NoError(t, err)
	return store, mock
}

func pgVersionRows(id, state string, versionNumber int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "template_id", "version_number", "state", "rules",
		"rules_hash", "reason", "created_at", "created_by", "published_at",
	}).AddRow(id, tmplID, versionNumber, state, []byte(`{}`), "", "", time.Now().UTC(), "", nil)
}

func TestPostgresStore_InsertDraftUniqueViolation(t *testing.T) {
	store, mock := newMockPGStore(t)

	mock.ExpectExec("INSERT INTO policy_versions").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "idx_one_draft_per_template"})

	err := store.InsertDraft(context.Background(), &Version{
		ID: "v1", TemplateID: tmplID, State: StateDraft, CreatedAt: time.Now(),
	})
	assert.ErrorIs(t, err, ErrDraftExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetVersionNotFound(t *testing.T) {
	store, mock := newMockPGStore(t)

	mock.ExpectQuery("SELECT (.+) FROM policy_versions WHERE id").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetVersion(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PublishNonDraftIsRace(t *testing.T) {
	store, mock := newMockPGStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM policy_versions WHERE id (.+) FOR UPDATE").
		WithArgs("v1").
		WillReturnRows(pgVersionRows("v1", string(StatePublished), 1))
	mock.ExpectRollback()

	_, err := store.PublishDraft(context.Background(), "v1", "retry", time.Now())
	assert.ErrorIs(t, err, ErrPublishRace)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PublishCommitUniqueViolationIsRace(t *testing.T) {
	store, mock := newMockPGStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FOR UPDATE").
		WithArgs("v1").
		WillReturnRows(pgVersionRows("v1", string(StateDraft), 0))
	mock.ExpectQuery("SELECT COALESCE").
		WithArgs(tmplID).
		WillReturnRows(sqlmock.NewRows([]string{"next"}).AddRow(2))
	mock.ExpectExec("UPDATE policy_versions SET state = 'superseded'").
		WithArgs(tmplID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE policy_versions").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "idx_version_number_per_template"})
	mock.ExpectRollback()

	_, err := store.PublishDraft(context.Background(), "v1", "race", time.Now())
	assert.ErrorIs(t, err, ErrPublishRace)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CurrentPublishedScan(t *testing.T) {
	store, mock := newMockPGStore(t)
	published := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{
		"id", "template_id", "version_number", "state", "rules",
		"rules_hash", "reason", "created_at", "created_by", "published_at",
	}).AddRow("v2", tmplID, 2, string(StatePublished),
		[]byte(`{"greeting":[{"id":"r1","type":"required_phrase","severity":"major","enabled":true}]}`),
		"abc123", "rollout", published.Add(-time.Hour), "ops", published)

	mock.ExpectQuery("SELECT (.+) FROM policy_versions WHERE template_id").
		WithArgs(tmplID).
		WillReturnRows(rows)

	v, err := store.CurrentPublished(context.Background(), tmplID)
	require.NoError(t, err)
	assert.Equal(t, 2, v.VersionNumber)
	assert.Equal(t, "abc123", v.RulesHash)
	require.Len(t, v.Rules["greeting"], 1)
	assert.Equal(t, "r1", v.Rules["greeting"][0].ID)
	require.NotNil(t, v.PublishedAt)
	assert.True(t, v.PublishedAt.Equal(published))
	assert.NoError(t, mock.ExpectationsWereMet())
}
