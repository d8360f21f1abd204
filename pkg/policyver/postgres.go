package policyver

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists versions in PostgreSQL with the same
// constraint-backed invariants as SQLiteStore. Under Postgres the
// partial unique indexes do real work: concurrent publishes on the
// same template serialize on them and the loser gets a 23505.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps db and runs the schema migration.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS policy_versions (
			id TEXT PRIMARY KEY,
			template_id TEXT NOT NULL,
			version_number INTEGER NOT NULL DEFAULT 0,
			state TEXT NOT NULL,
			rules JSONB NOT NULL,
			rules_hash TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			created_by TEXT NOT NULL DEFAULT '',
			published_at TIMESTAMPTZ
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_one_draft_per_template
			ON policy_versions(template_id) WHERE state = 'draft'`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_one_published_per_template
			ON policy_versions(template_id) WHERE state = 'published'`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_version_number_per_template
			ON policy_versions(template_id, version_number) WHERE state != 'draft'`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(context.Background(), q); err != nil {
			return fmt.Errorf("migrate policy_versions: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) GetVersion(ctx context.Context, id string) (*Version, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+pgVersionColumns+` FROM policy_versions WHERE id = $1`, id)
	return scanPGVersion(row)
}

func (s *PostgresStore) CurrentPublished(ctx context.Context, templateID string) (*Version, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+pgVersionColumns+` FROM policy_versions WHERE template_id = $1 AND state = 'published'`, templateID)
	return scanPGVersion(row)
}

func (s *PostgresStore) OpenDraft(ctx context.Context, templateID string) (*Version, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+pgVersionColumns+` FROM policy_versions WHERE template_id = $1 AND state = 'draft'`, templateID)
	return scanPGVersion(row)
}

func (s *PostgresStore) InsertDraft(ctx context.Context, v *Version) error {
	rules, err := json.Marshal(v.Rules)
	if err != nil {
		return fmt.Errorf("marshal rules: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO policy_versions (id, template_id, version_number, state, rules, rules_hash, reason, created_at, created_by)
		 VALUES ($1, $2, 0, 'draft', $3, '', $4, $5, $6)`,
		v.ID, v.TemplateID, rules, v.Reason, v.CreatedAt.UTC(), v.CreatedBy)
	if err != nil {
		if isPGUniqueViolation(err) {
			return ErrDraftExists
		}
		return fmt.Errorf("insert draft: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateDraftRules(ctx context.Context, draftID string, rules RuleSet) error {
	blob, err := json.Marshal(rules)
	if err != nil {
		return fmt.Errorf("marshal rules: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE policy_versions SET rules = $1 WHERE id = $2 AND state = 'draft'`, blob, draftID)
	if err != nil {
		return fmt.Errorf("update draft: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, getErr := s.GetVersion(ctx, draftID); getErr == nil {
			return ErrNotDraft
		}
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) PublishDraft(ctx context.Context, draftID, reason string, at time.Time) (*Version, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin publish: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// FOR UPDATE pins the draft row so racing publishers serialize here.
	row := tx.QueryRowContext(ctx,
		`SELECT `+pgVersionColumns+` FROM policy_versions WHERE id = $1 FOR UPDATE`, draftID)
	draft, err := scanPGVersion(row)
	if err != nil {
		return nil, err
	}
	if draft.State != StateDraft {
		return nil, ErrPublishRace
	}

	hash, err := draft.Rules.Hash()
	if err != nil {
		return nil, err
	}

	var next int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version_number), 0) + 1 FROM policy_versions
		 WHERE template_id = $1 AND state != 'draft'`, draft.TemplateID).Scan(&next); err != nil {
		return nil, fmt.Errorf("next version number: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE policy_versions SET state = 'superseded' WHERE template_id = $1 AND state = 'published'`,
		draft.TemplateID); err != nil {
		return nil, fmt.Errorf("demote published: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE policy_versions
		 SET state = 'published', version_number = $1, rules_hash = $2, reason = $3, published_at = $4
		 WHERE id = $5 AND state = 'draft'`,
		next, hash, reason, at.UTC(), draftID)
	if err != nil {
		if isPGUniqueViolation(err) {
			return nil, ErrPublishRace
		}
		return nil, fmt.Errorf("promote draft: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrPublishRace
	}

	if err := tx.Commit(); err != nil {
		if isPGUniqueViolation(err) {
			return nil, ErrPublishRace
		}
		return nil, fmt.Errorf("commit publish: %w", err)
	}
	return s.GetVersion(ctx, draftID)
}

func (s *PostgresStore) ListVersions(ctx context.Context, templateID string) ([]*Version, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pgVersionColumns+` FROM policy_versions
		 WHERE template_id = $1 ORDER BY version_number DESC, created_at DESC`, templateID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Version
	for rows.Next() {
		v, err := scanPGVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

const pgVersionColumns = `id, template_id, version_number, state, rules, rules_hash, reason, created_at, created_by, published_at`

func scanPGVersion(row rowScanner) (*Version, error) {
	var v Version
	var rules []byte
	var publishedAt sql.NullTime
	err := row.Scan(&v.ID, &v.TemplateID, &v.VersionNumber, &v.State, &rules,
		&v.RulesHash, &v.Reason, &v.CreatedAt, &v.CreatedBy, &publishedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan version: %w", err)
	}
	if err := json.Unmarshal(rules, &v.Rules); err != nil {
		return nil, fmt.Errorf("unmarshal rules: %w", err)
	}
	if publishedAt.Valid {
		at := publishedAt.Time
		v.PublishedAt = &at
	}
	return &v, nil
}

func isPGUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
