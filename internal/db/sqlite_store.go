package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gradeline/gradeline/internal/api"
	"github.com/gradeline/gradeline/internal/services"
)

// SQLiteStore persists the full api.Store surface in a single sqlite
// database. Nested structures (criteria, snapshots, score lists, audit
// change lists) are stored as JSON columns; everything queried on has
// its own column.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", stmt, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func NewStore(db *sql.DB) (api.Store, error) {
	return NewSQLiteStore(db)
}

var _ api.Store = (*SQLiteStore)(nil)

func encodeTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func decodeTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func encodeTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: encodeTime(*t), Valid: true}
}

func decodeTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := decodeTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *SQLiteStore) InsertForm(f *services.EvaluationForm) (*services.EvaluationForm, error) {
	_, err := s.db.Exec(`INSERT INTO forms (id, tenant_id, code, title, description, valid_from, valid_until, rule, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.TenantID, f.Code, f.Title, f.Description,
		encodeTimePtr(f.ValidFrom), encodeTimePtr(f.ValidUntil), string(f.Rule), string(f.Status))
	if err != nil {
		return nil, fmt.Errorf("insert form: %w", err)
	}
	return services.CloneForm(f), nil
}

func (s *SQLiteStore) GetForm(id string) (*services.EvaluationForm, error) {
	row := s.db.QueryRow(`SELECT id, tenant_id, code, title, description, valid_from, valid_until, rule, status
		FROM forms WHERE id = ?`, id)
	return scanForm(row)
}

func (s *SQLiteStore) FindFormByCode(tenantID, code string) (*services.EvaluationForm, error) {
	row := s.db.QueryRow(`SELECT id, tenant_id, code, title, description, valid_from, valid_until, rule, status
		FROM forms WHERE tenant_id = ? AND code = ?`, tenantID, code)
	return scanForm(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanForm(row rowScanner) (*services.EvaluationForm, error) {
	var f services.EvaluationForm
	var rule, status string
	var from, until sql.NullString
	err := row.Scan(&f.ID, &f.TenantID, &f.Code, &f.Title, &f.Description, &from, &until, &rule, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan form: %w", err)
	}
	if f.ValidFrom, err = decodeTimePtr(from); err != nil {
		return nil, fmt.Errorf("form %s valid_from: %w", f.ID, err)
	}
	if f.ValidUntil, err = decodeTimePtr(until); err != nil {
		return nil, fmt.Errorf("form %s valid_until: %w", f.ID, err)
	}
	f.Rule = services.CalcRule(rule)
	f.Status = services.FormStatus(status)
	return &f, nil
}

func (s *SQLiteStore) UpdateForm(f *services.EvaluationForm) error {
	res, err := s.db.Exec(`UPDATE forms SET tenant_id = ?, code = ?, title = ?, description = ?,
		valid_from = ?, valid_until = ?, rule = ?, status = ? WHERE id = ?`,
		f.TenantID, f.Code, f.Title, f.Description,
		encodeTimePtr(f.ValidFrom), encodeTimePtr(f.ValidUntil), string(f.Rule), string(f.Status), f.ID)
	if err != nil {
		return fmt.Errorf("update form: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return services.NewNotFoundError("form not found")
	}
	return nil
}

func (s *SQLiteStore) DeleteForm(id string) error {
	res, err := s.db.Exec(`DELETE FROM forms WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete form: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return services.NewNotFoundError("form not found")
	}
	// form_groups rows go with the form via ON DELETE CASCADE.
	return nil
}

func (s *SQLiteStore) ListFormsByTenant(tenantID string) ([]*services.EvaluationForm, error) {
	rows, err := s.db.Query(`SELECT id, tenant_id, code, title, description, valid_from, valid_until, rule, status
		FROM forms WHERE tenant_id = ? ORDER BY id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list forms: %w", err)
	}
	defer rows.Close()
	out := []*services.EvaluationForm{}
	for rows.Next() {
		f, err := scanForm(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpsertGroupRow(row services.GroupRow) error {
	criteria, err := encodeJSON(row.Criteria)
	if err != nil {
		return fmt.Errorf("encode group criteria: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO form_groups (id, form_id, parent_id, title, ord, criteria)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET parent_id = excluded.parent_id, title = excluded.title,
			ord = excluded.ord, criteria = excluded.criteria`,
		row.ID, row.FormID, row.ParentID, row.Title, row.Order, criteria)
	if err != nil {
		return fmt.Errorf("upsert group row: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteGroupRows(formID string, ids []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, id := range ids {
		if _, err := tx.Exec(`DELETE FROM form_groups WHERE form_id = ? AND id = ?`, formID, id); err != nil {
			return fmt.Errorf("delete group row %s: %w", id, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListGroupRows(formID string) ([]services.GroupRow, error) {
	rows, err := s.db.Query(`SELECT id, form_id, parent_id, title, ord, criteria
		FROM form_groups WHERE form_id = ?`, formID)
	if err != nil {
		return nil, fmt.Errorf("list group rows: %w", err)
	}
	defer rows.Close()
	out := []services.GroupRow{}
	for rows.Next() {
		var r services.GroupRow
		var criteria string
		if err := rows.Scan(&r.ID, &r.FormID, &r.ParentID, &r.Title, &r.Order, &criteria); err != nil {
			return nil, fmt.Errorf("scan group row: %w", err)
		}
		if err := json.Unmarshal([]byte(criteria), &r.Criteria); err != nil {
			return nil, fmt.Errorf("decode group %s criteria: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AddFormAudit(e services.FormAuditEntry) error {
	changes, err := encodeJSON(e.Changes)
	if err != nil {
		return fmt.Errorf("encode audit changes: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO form_audit (form_id, kind, actor, at, changes) VALUES (?, ?, ?, ?, ?)`,
		e.FormID, string(e.Kind), e.Stamp.Actor, encodeTime(e.Stamp.At), changes)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListFormAudit(formID string) ([]services.FormAuditEntry, error) {
	rows, err := s.db.Query(`SELECT form_id, kind, actor, at, changes
		FROM form_audit WHERE form_id = ? ORDER BY seq`, formID)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()
	out := []services.FormAuditEntry{}
	for rows.Next() {
		var e services.FormAuditEntry
		var kind, at, changes string
		if err := rows.Scan(&e.FormID, &kind, &e.Stamp.Actor, &at, &changes); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Kind = services.AuditKind(kind)
		if e.Stamp.At, err = decodeTime(at); err != nil {
			return nil, fmt.Errorf("audit entry time: %w", err)
		}
		if err := json.Unmarshal([]byte(changes), &e.Changes); err != nil {
			return nil, fmt.Errorf("decode audit changes: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) InsertRun(r *services.Run) (*services.Run, error) {
	snapshot, err := encodeJSON(r.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("encode run snapshot: %w", err)
	}
	scores, err := encodeJSON(r.Scores)
	if err != nil {
		return nil, fmt.Errorf("encode run scores: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO runs (id, form_id, tenant_id, subject, status, started_at, scored_at, snapshot, scores, total)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.FormID, r.TenantID, r.Subject, string(r.Status),
		encodeTime(r.StartedAt), encodeTimePtr(r.ScoredAt), snapshot, scores, r.Total)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	cp := *r
	return &cp, nil
}

func (s *SQLiteStore) GetRun(id string) (*services.Run, error) {
	row := s.db.QueryRow(`SELECT id, form_id, tenant_id, subject, status, started_at, scored_at, snapshot, scores, total
		FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

func scanRun(row rowScanner) (*services.Run, error) {
	var r services.Run
	var status, startedAt, snapshot, scores string
	var scoredAt sql.NullString
	err := row.Scan(&r.ID, &r.FormID, &r.TenantID, &r.Subject, &status, &startedAt, &scoredAt, &snapshot, &scores, &r.Total)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	r.Status = services.RunStatus(status)
	if r.StartedAt, err = decodeTime(startedAt); err != nil {
		return nil, fmt.Errorf("run %s started_at: %w", r.ID, err)
	}
	if r.ScoredAt, err = decodeTimePtr(scoredAt); err != nil {
		return nil, fmt.Errorf("run %s scored_at: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(snapshot), &r.Snapshot); err != nil {
		return nil, fmt.Errorf("decode run %s snapshot: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(scores), &r.Scores); err != nil {
		return nil, fmt.Errorf("decode run %s scores: %w", r.ID, err)
	}
	return &r, nil
}

func (s *SQLiteStore) UpdateRun(r *services.Run) error {
	snapshot, err := encodeJSON(r.Snapshot)
	if err != nil {
		return fmt.Errorf("encode run snapshot: %w", err)
	}
	scores, err := encodeJSON(r.Scores)
	if err != nil {
		return fmt.Errorf("encode run scores: %w", err)
	}
	res, err := s.db.Exec(`UPDATE runs SET form_id = ?, tenant_id = ?, subject = ?, status = ?,
		started_at = ?, scored_at = ?, snapshot = ?, scores = ?, total = ? WHERE id = ?`,
		r.FormID, r.TenantID, r.Subject, string(r.Status),
		encodeTime(r.StartedAt), encodeTimePtr(r.ScoredAt), snapshot, scores, r.Total, r.ID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return services.NewNotFoundError("run not found")
	}
	return nil
}

func (s *SQLiteStore) ListRunsByForm(formID string) ([]*services.Run, error) {
	rows, err := s.db.Query(`SELECT id, form_id, tenant_id, subject, status, started_at, scored_at, snapshot, scores, total
		FROM runs WHERE form_id = ? ORDER BY started_at, id`, formID)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	out := []*services.Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AddTenant(t *services.Tenant) error {
	_, err := s.db.Exec(`INSERT INTO tenants (id, name) VALUES (?, ?)`, t.ID, t.Name)
	if err != nil {
		return fmt.Errorf("insert tenant: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AddUser(u *services.User) error {
	_, err := s.db.Exec(`INSERT INTO users (id, tenant_id, email, password_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.TenantID, u.Email, string(u.PassHash), encodeTime(u.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FindUserByEmail(email string) (*services.User, error) {
	row := s.db.QueryRow(`SELECT id, tenant_id, email, password_hash, created_at
		FROM users WHERE email = ? COLLATE NOCASE`, email)
	var u services.User
	var created string
	err := row.Scan(&u.ID, &u.TenantID, &u.Email, &u.PassHash, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	if u.CreatedAt, err = decodeTime(created); err != nil {
		return nil, fmt.Errorf("user %s created_at: %w", u.ID, err)
	}
	return &u, nil
}
