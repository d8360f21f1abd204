package policyver

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists versions in SQLite. Partial unique indexes
// enforce the one-draft and one-published invariants at the storage
// layer; a losing racer surfaces as a constraint violation, mapped to
// the store's conflict errors.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps db and runs the schema migration.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS policy_versions (
			id TEXT PRIMARY KEY,
			template_id TEXT NOT NULL,
			version_number INTEGER NOT NULL DEFAULT 0,
			state TEXT NOT NULL,
			rules JSON NOT NULL,
			rules_hash TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			created_by TEXT NOT NULL DEFAULT '',
			published_at DATETIME
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_one_draft_per_template
			ON policy_versions(template_id) WHERE state = 'draft';`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_one_published_per_template
			ON policy_versions(template_id) WHERE state = 'published';`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_version_number_per_template
			ON policy_versions(template_id, version_number) WHERE state != 'draft';`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(context.Background(), q); err != nil {
			return fmt.Errorf("migrate policy_versions: %w", err)
		}
	}
	return nil
}

const versionColumns = `id, template_id, version_number, state, rules, rules_hash, reason, created_at, created_by, published_at`

func (s *SQLiteStore) GetVersion(ctx context.Context, id string) (*Version, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM policy_versions WHERE id = ?`, id)
	return scanVersion(row)
}

func (s *SQLiteStore) CurrentPublished(ctx context.Context, templateID string) (*Version, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM policy_versions WHERE template_id = ? AND state = 'published'`, templateID)
	return scanVersion(row)
}

func (s *SQLiteStore) OpenDraft(ctx context.Context, templateID string) (*Version, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM policy_versions WHERE template_id = ? AND state = 'draft'`, templateID)
	return scanVersion(row)
}

func (s *SQLiteStore) InsertDraft(ctx context.Context, v *Version) error {
	rules, err := json.Marshal(v.Rules)
	if err != nil {
		return fmt.Errorf("marshal rules: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO policy_versions (id, template_id, version_number, state, rules, rules_hash, reason, created_at, created_by)
		 VALUES (?, ?, 0, 'draft', ?, '', ?, ?, ?)`,
		v.ID, v.TemplateID, string(rules), v.Reason, v.CreatedAt.UTC().Format(time.RFC3339Nano), v.CreatedBy)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDraftExists
		}
		return fmt.Errorf("insert draft: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateDraftRules(ctx context.Context, draftID string, rules RuleSet) error {
	blob, err := json.Marshal(rules)
	if err != nil {
		return fmt.Errorf("marshal rules: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE policy_versions SET rules = ? WHERE id = ? AND state = 'draft'`,
		string(blob), draftID)
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

func (s *SQLiteStore) PublishDraft(ctx context.Context, draftID, reason string, at time.Time) (*Version, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin publish: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM policy_versions WHERE id = ?`, draftID)
	draft, err := scanVersion(row)
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
		 WHERE template_id = ? AND state != 'draft'`, draft.TemplateID).Scan(&next); err != nil {
		return nil, fmt.Errorf("next version number: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE policy_versions SET state = 'superseded' WHERE template_id = ? AND state = 'published'`,
		draft.TemplateID); err != nil {
		return nil, fmt.Errorf("demote published: %w", err)
	}

	publishedAt := at.UTC().Format(time.RFC3339Nano)
	res, err := tx.ExecContext(ctx,
		`UPDATE policy_versions
		 SET state = 'published', version_number = ?, rules_hash = ?, reason = ?, published_at = ?
		 WHERE id = ? AND state = 'draft'`,
		next, hash, reason, publishedAt, draftID)
	if err != nil {
		if isUniqueViolation(err) {
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
		if isUniqueViolation(err) {
			return nil, ErrPublishRace
		}
		return nil, fmt.Errorf("commit publish: %w", err)
	}
	return s.GetVersion(ctx, draftID)
}

func (s *SQLiteStore) ListVersions(ctx context.Context, templateID string) ([]*Version, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+versionColumns+` FROM policy_versions
		 WHERE template_id = ? ORDER BY version_number DESC, created_at DESC`, templateID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Version
	for rows.Next() {
		v, err := scanVersion(rows)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row rowScanner) (*Version, error) {
	var v Version
	var rules string
	var createdAt string
	var publishedAt sql.NullString
	err := row.Scan(&v.ID, &v.TemplateID, &v.VersionNumber, &v.State, &rules,
		&v.RulesHash, &v.Reason, &createdAt, &v.CreatedBy, &publishedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan version: %w", err)
	}
	if err := json.Unmarshal([]byte(rules), &v.Rules); err != nil {
		return nil, fmt.Errorf("unmarshal rules: %w", err)
	}
	if v.CreatedAt, err = parseStoredTime(createdAt); err != nil {
		return nil, err
	}
	if publishedAt.Valid && publishedAt.String != "" {
		at, err := parseStoredTime(publishedAt.String)
		if err != nil {
			return nil, err
		}
		v.PublishedAt = &at
	}
	return &v, nil
}

func parseStoredTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable stored timestamp %q", s)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "constraint")
}
