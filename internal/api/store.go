package api

import (
	"sort"
	"strings"
	"sync"

	"github.com/gradeline/gradeline/internal/services"
)

// memoryStore keeps everything in maps; it backs tests and local
// development. Reads hand out copies so callers never share structure
// with the stored aggregates.
type memoryStore struct {
	mu           sync.RWMutex
	forms        map[string]*services.EvaluationForm
	rows         map[string][]services.GroupRow
	audit        []services.FormAuditEntry
	runs         map[string]*services.Run
	tenants      map[string]*services.Tenant
	usersByEmail map[string]*services.User
}

// NewMemoryStore returns an empty in-memory Store.
func NewMemoryStore() Store {
	return &memoryStore{
		forms:        map[string]*services.EvaluationForm{},
		rows:         map[string][]services.GroupRow{},
		runs:         map[string]*services.Run{},
		tenants:      map[string]*services.Tenant{},
		usersByEmail: map[string]*services.User{},
	}
}

func (s *memoryStore) InsertForm(f *services.EvaluationForm) (*services.EvaluationForm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := services.CloneForm(f)
	s.forms[f.ID] = cp
	return services.CloneForm(cp), nil
}

func (s *memoryStore) GetForm(id string) (*services.EvaluationForm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if f, ok := s.forms[id]; ok {
		return services.CloneForm(f), nil
	}
	return nil, nil
}

func (s *memoryStore) FindFormByCode(tenantID, code string) (*services.EvaluationForm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, f := range s.forms {
		if f.TenantID == tenantID && f.Code == code {
			return services.CloneForm(f), nil
		}
	}
	return nil, nil
}

func (s *memoryStore) UpdateForm(f *services.EvaluationForm) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.forms[f.ID]; !ok {
		return services.NewNotFoundError("form not found")
	}
	s.forms[f.ID] = services.CloneForm(f)
	return nil
}

func (s *memoryStore) DeleteForm(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.forms[id]; !ok {
		return services.NewNotFoundError("form not found")
	}
	delete(s.forms, id)
	delete(s.rows, id)
	return nil
}

func (s *memoryStore) ListFormsByTenant(tenantID string) ([]*services.EvaluationForm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*services.EvaluationForm{}
	for _, f := range s.forms {
		if f.TenantID == tenantID {
			out = append(out, services.CloneForm(f))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) UpsertGroupRow(row services.GroupRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.rows[row.FormID]
	for i := range rows {
		if rows[i].ID == row.ID {
			rows[i] = row
			s.rows[row.FormID] = rows
			return nil
		}
	}
	s.rows[row.FormID] = append(rows, row)
	return nil
}

func (s *memoryStore) DeleteGroupRows(formID string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doomed := make(map[string]bool, len(ids))
	for _, id := range ids {
		doomed[id] = true
	}
	kept := make([]services.GroupRow, 0, len(s.rows[formID]))
	for _, r := range s.rows[formID] {
		if !doomed[r.ID] {
			kept = append(kept, r)
		}
	}
	s.rows[formID] = kept
	return nil
}

func (s *memoryStore) ListGroupRows(formID string) ([]services.GroupRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]services.GroupRow(nil), s.rows[formID]...), nil
}

func (s *memoryStore) AddFormAudit(e services.FormAuditEntry) error {
	s.mu.Lock()
	s.audit = append(s.audit, e)
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) ListFormAudit(formID string) ([]services.FormAuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []services.FormAuditEntry{}
	for _, e := range s.audit {
		if e.FormID == formID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memoryStore) InsertRun(r *services.Run) (*services.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.runs[r.ID] = &cp
	out := cp
	return &out, nil
}

func (s *memoryStore) GetRun(id string) (*services.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.runs[id]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, nil
}

func (s *memoryStore) UpdateRun(r *services.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[r.ID]; !ok {
		return services.NewNotFoundError("run not found")
	}
	cp := *r
	s.runs[r.ID] = &cp
	return nil
}

func (s *memoryStore) ListRunsByForm(formID string) ([]*services.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*services.Run{}
	for _, r := range s.runs {
		if r.FormID == formID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (s *memoryStore) AddTenant(t *services.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.tenants[t.ID] = &cp
	return nil
}

func (s *memoryStore) AddUser(u *services.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.usersByEmail[strings.ToLower(u.Email)] = &cp
	return nil
}

func (s *memoryStore) FindUserByEmail(email string) (*services.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.usersByEmail[strings.ToLower(email)]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}
