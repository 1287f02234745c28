package services

import (
	"strconv"
	"strings"
	"time"
)

// FormStore abstracts persistence operations required by FormService.
// Forms are stored normalized: the aggregate row plus flat group rows.
type FormStore interface {
	InsertForm(f *EvaluationForm) (*EvaluationForm, error)
	GetForm(id string) (*EvaluationForm, error)
	FindFormByCode(tenantID, code string) (*EvaluationForm, error)
	UpdateForm(f *EvaluationForm) error
	DeleteForm(id string) error
	ListFormsByTenant(tenantID string) ([]*EvaluationForm, error)

	UpsertGroupRow(row GroupRow) error
	DeleteGroupRows(formID string, ids []string) error
	ListGroupRows(formID string) ([]GroupRow, error)

	AddFormAudit(e FormAuditEntry) error
	ListFormAudit(formID string) ([]FormAuditEntry, error)
}

type FormService struct {
	store FormStore
	now   func() time.Time
	idGen func(n int) string
}

func NewFormService(store FormStore) *FormService {
	return &FormService{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		idGen: shortID,
	}
}

// FormInput carries the fields a caller may set when creating a draft.
type FormInput struct {
	Code        string     `json:"code"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Rule        CalcRule   `json:"rule"`
	ValidFrom   *time.Time `json:"valid_from,omitempty"`
	ValidUntil  *time.Time `json:"valid_until,omitempty"`
}

// FormUpdate carries draft edits; nil fields stay unchanged.
type FormUpdate struct {
	Code            *string    `json:"code,omitempty"`
	Title           *string    `json:"title,omitempty"`
	Description     *string    `json:"description,omitempty"`
	Rule            *CalcRule  `json:"rule,omitempty"`
	ValidFrom       *time.Time `json:"valid_from,omitempty"`
	ValidUntil      *time.Time `json:"valid_until,omitempty"`
	ClearValidFrom  bool       `json:"clear_valid_from,omitempty"`
	ClearValidUntil bool       `json:"clear_valid_until,omitempty"`
}

// GroupInput describes a new or updated group node.
type GroupInput struct {
	ParentID string `json:"parent_id,omitempty"`
	Title    string `json:"title"`
	Order    int    `json:"order"`
}

func (s *FormService) CreateForm(tenantID, actor string, in FormInput) (*EvaluationForm, error) {
	if tenantID == "" {
		return nil, NewForbiddenError("unauthorized")
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, NewInvalidError("title required")
	}
	rule := in.Rule
	if rule == "" {
		rule = RuleAverage
	}
	if _, err := DefinitionFor(rule); err != nil {
		return nil, err
	}
	if err := validateWindow(in.ValidFrom, in.ValidUntil); err != nil {
		return nil, err
	}
	f := &EvaluationForm{
		ID:          s.idGen(8),
		TenantID:    tenantID,
		Code:        strings.TrimSpace(in.Code),
		Title:       in.Title,
		Description: in.Description,
		ValidFrom:   in.ValidFrom,
		ValidUntil:  in.ValidUntil,
		Rule:        rule,
		Status:      StatusDraft,
	}
	created, err := s.store.InsertForm(f)
	if err != nil {
		return nil, err
	}
	if created == nil {
		created = f
	}
	if err := s.appendAudit(created.ID, AuditCreated, actor, nil); err != nil {
		return nil, err
	}
	return created, nil
}

// GetForm returns the aggregate with its group tree assembled from the
// stored rows.
func (s *FormService) GetForm(tenantID, id string) (*EvaluationForm, error) {
	return s.loadForm(tenantID, id)
}

func (s *FormService) ListForms(tenantID string) ([]*EvaluationForm, error) {
	if tenantID == "" {
		return nil, NewForbiddenError("unauthorized")
	}
	return s.store.ListFormsByTenant(tenantID)
}

func (s *FormService) UpdateForm(tenantID, actor, id string, upd FormUpdate) (*EvaluationForm, error) {
	f, err := s.mutableForm(tenantID, id)
	if err != nil {
		return nil, err
	}
	var changes []FormChange
	if upd.Code != nil && strings.TrimSpace(*upd.Code) != f.Code {
		code := strings.TrimSpace(*upd.Code)
		changes = append(changes, FormChange{Field: "code", OldValue: f.Code, NewValue: code})
		f.Code = code
	}
	if upd.Title != nil && *upd.Title != f.Title {
		if strings.TrimSpace(*upd.Title) == "" {
			return nil, NewInvalidError("title required")
		}
		changes = append(changes, FormChange{Field: "title", OldValue: f.Title, NewValue: *upd.Title})
		f.Title = *upd.Title
	}
	if upd.Description != nil && *upd.Description != f.Description {
		changes = append(changes, FormChange{Field: "description", OldValue: f.Description, NewValue: *upd.Description})
		f.Description = *upd.Description
	}
	if upd.Rule != nil && *upd.Rule != f.Rule {
		if _, err := DefinitionFor(*upd.Rule); err != nil {
			return nil, err
		}
		changes = append(changes, FormChange{Field: "rule", OldValue: string(f.Rule), NewValue: string(*upd.Rule)})
		f.Rule = *upd.Rule
	}
	from, until := f.ValidFrom, f.ValidUntil
	if upd.ClearValidFrom {
		from = nil
	} else if upd.ValidFrom != nil {
		from = upd.ValidFrom
	}
	if upd.ClearValidUntil {
		until = nil
	} else if upd.ValidUntil != nil {
		until = upd.ValidUntil
	}
	if !sameMoment(from, f.ValidFrom) || !sameMoment(until, f.ValidUntil) {
		if err := validateWindow(from, until); err != nil {
			return nil, err
		}
		changes = append(changes, FormChange{Field: "validity", OldValue: windowString(f.ValidFrom, f.ValidUntil), NewValue: windowString(from, until)})
		f.ValidFrom, f.ValidUntil = from, until
	}
	if len(changes) == 0 {
		return f, nil
	}
	if err := s.store.UpdateForm(f); err != nil {
		return nil, err
	}
	if err := s.appendAudit(f.ID, AuditEdited, actor, changes); err != nil {
		return nil, err
	}
	return f, nil
}

func (s *FormService) DeleteForm(tenantID, actor, id string) error {
	f, err := s.mutableForm(tenantID, id)
	if err != nil {
		return err
	}
	return s.store.DeleteForm(f.ID)
}

func (s *FormService) AddGroup(tenantID, actor, formID string, in GroupInput) (*FormGroup, error) {
	f, err := s.mutableForm(tenantID, formID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, NewInvalidError("group title required")
	}
	rows, err := s.store.ListGroupRows(f.ID)
	if err != nil {
		return nil, err
	}
	if in.ParentID != "" && findRow(rows, in.ParentID) == nil {
		return nil, NewNotFoundError("parent group not found")
	}
	for _, r := range rows {
		if r.ParentID == in.ParentID && r.Order == in.Order {
			return nil, NewStructuralError("order index already taken in this scope")
		}
	}
	row := GroupRow{
		ID:       s.idGen(8),
		FormID:   f.ID,
		ParentID: in.ParentID,
		Title:    in.Title,
		Order:    in.Order,
	}
	if err := s.store.UpsertGroupRow(row); err != nil {
		return nil, err
	}
	change := FormChange{Field: "group:" + row.ID, NewValue: in.Title}
	if err := s.appendAudit(f.ID, AuditEdited, actor, []FormChange{change}); err != nil {
		return nil, err
	}
	return &FormGroup{ID: row.ID, Title: row.Title, Order: row.Order}, nil
}

func (s *FormService) UpdateGroup(tenantID, actor, formID, groupID string, in GroupInput) error {
	f, err := s.mutableForm(tenantID, formID)
	if err != nil {
		return err
	}
	rows, err := s.store.ListGroupRows(f.ID)
	if err != nil {
		return err
	}
	row := findRow(rows, groupID)
	if row == nil {
		return NewNotFoundError("group not found")
	}
	if strings.TrimSpace(in.Title) == "" {
		return NewInvalidError("group title required")
	}
	for _, r := range rows {
		if r.ID != groupID && r.ParentID == row.ParentID && r.Order == in.Order {
			return NewStructuralError("order index already taken in this scope")
		}
	}
	var changes []FormChange
	if row.Title != in.Title {
		changes = append(changes, FormChange{Field: "group:" + groupID, OldValue: row.Title, NewValue: in.Title})
	}
	if row.Order != in.Order {
		changes = append(changes, FormChange{Field: "group:" + groupID + ":order", OldValue: strconv.Itoa(row.Order), NewValue: strconv.Itoa(in.Order)})
	}
	if len(changes) == 0 {
		return nil
	}
	row.Title = in.Title
	row.Order = in.Order
	if err := s.store.UpsertGroupRow(*row); err != nil {
		return err
	}
	return s.appendAudit(f.ID, AuditEdited, actor, changes)
}

// DeleteGroup removes a group and everything it owns: its local criteria
// and its whole subtree.
func (s *FormService) DeleteGroup(tenantID, actor, formID, groupID string) error {
	f, err := s.mutableForm(tenantID, formID)
	if err != nil {
		return err
	}
	rows, err := s.store.ListGroupRows(f.ID)
	if err != nil {
		return err
	}
	row := findRow(rows, groupID)
	if row == nil {
		return NewNotFoundError("group not found")
	}
	doomed := subtreeIDs(rows, groupID)
	if err := s.store.DeleteGroupRows(f.ID, doomed); err != nil {
		return err
	}
	change := FormChange{Field: "group:" + groupID, OldValue: row.Title}
	return s.appendAudit(f.ID, AuditEdited, actor, []FormChange{change})
}

func (s *FormService) AddCriterion(tenantID, actor, formID, groupID string, c *Criterion) (*Criterion, error) {
	f, err := s.mutableForm(tenantID, formID)
	if err != nil {
		return nil, err
	}
	if err := validateCriterion(c); err != nil {
		return nil, err
	}
	rows, err := s.store.ListGroupRows(f.ID)
	if err != nil {
		return nil, err
	}
	row := findRow(rows, groupID)
	if row == nil {
		return nil, NewNotFoundError("group not found")
	}
	cp := cloneCriterion(c)
	if cp.ID == "" {
		cp.ID = s.idGen(8)
	}
	row.Criteria = append(row.Criteria, cp)
	if err := s.store.UpsertGroupRow(*row); err != nil {
		return nil, err
	}
	change := FormChange{Field: "criterion:" + cp.ID, NewValue: cp.Title}
	if err := s.appendAudit(f.ID, AuditEdited, actor, []FormChange{change}); err != nil {
		return nil, err
	}
	return cp, nil
}

func (s *FormService) UpdateCriterion(tenantID, actor, formID, criterionID string, c *Criterion) error {
	f, err := s.mutableForm(tenantID, formID)
	if err != nil {
		return err
	}
	if err := validateCriterion(c); err != nil {
		return err
	}
	rows, err := s.store.ListGroupRows(f.ID)
	if err != nil {
		return err
	}
	for i := range rows {
		for j, existing := range rows[i].Criteria {
			if existing.ID != criterionID {
				continue
			}
			cp := cloneCriterion(c)
			cp.ID = criterionID
			rows[i].Criteria[j] = cp
			if err := s.store.UpsertGroupRow(rows[i]); err != nil {
				return err
			}
			change := FormChange{Field: "criterion:" + criterionID, OldValue: existing.Title, NewValue: cp.Title}
			return s.appendAudit(f.ID, AuditEdited, actor, []FormChange{change})
		}
	}
	return NewNotFoundError("criterion not found")
}

func (s *FormService) DeleteCriterion(tenantID, actor, formID, criterionID string) error {
	f, err := s.mutableForm(tenantID, formID)
	if err != nil {
		return err
	}
	rows, err := s.store.ListGroupRows(f.ID)
	if err != nil {
		return err
	}
	for i := range rows {
		for j, existing := range rows[i].Criteria {
			if existing.ID != criterionID {
				continue
			}
			rows[i].Criteria = append(rows[i].Criteria[:j], rows[i].Criteria[j+1:]...)
			if err := s.store.UpsertGroupRow(rows[i]); err != nil {
				return err
			}
			change := FormChange{Field: "criterion:" + criterionID, OldValue: existing.Title}
			return s.appendAudit(f.ID, AuditEdited, actor, []FormChange{change})
		}
	}
	return NewNotFoundError("criterion not found")
}

// Publish moves a draft to Published. The code must be set and unique
// within the tenant, and the form's calculation rule must verify against
// the current structure. On any failure the form stays Draft and no audit
// entry is written.
func (s *FormService) Publish(tenantID, actor, id string) (*EvaluationForm, error) {
	f, err := s.loadForm(tenantID, id)
	if err != nil {
		return nil, err
	}
	switch f.Status {
	case StatusDraft:
	case StatusPublished:
		return nil, NewLifecycleError("form is already published")
	case StatusArchived:
		return nil, NewLifecycleError("archived forms accept no transitions")
	}
	if strings.TrimSpace(f.Code) == "" {
		return nil, NewInvalidError("form code required before publish")
	}
	other, err := s.store.FindFormByCode(tenantID, f.Code)
	if err != nil {
		return nil, err
	}
	if other != nil && other.ID != f.ID {
		return nil, NewConflictError("form code " + f.Code + " already in use")
	}
	def, err := DefinitionFor(f.Rule)
	if err != nil {
		return nil, err
	}
	if err := def.Verify(f); err != nil {
		return nil, err
	}
	f.Status = StatusPublished
	if err := s.store.UpdateForm(f); err != nil {
		return nil, err
	}
	change := FormChange{Field: "status", OldValue: string(StatusDraft), NewValue: string(StatusPublished)}
	if err := s.appendAudit(f.ID, AuditPublished, actor, []FormChange{change}); err != nil {
		return nil, err
	}
	return f, nil
}

// Archive moves a published form to its terminal state.
func (s *FormService) Archive(tenantID, actor, id string) (*EvaluationForm, error) {
	f, err := s.loadForm(tenantID, id)
	if err != nil {
		return nil, err
	}
	switch f.Status {
	case StatusPublished:
	case StatusDraft:
		return nil, NewLifecycleError("only published forms can be archived")
	case StatusArchived:
		return nil, NewLifecycleError("form is already archived")
	}
	f.Status = StatusArchived
	if err := s.store.UpdateForm(f); err != nil {
		return nil, err
	}
	change := FormChange{Field: "status", OldValue: string(StatusPublished), NewValue: string(StatusArchived)}
	if err := s.appendAudit(f.ID, AuditArchived, actor, []FormChange{change}); err != nil {
		return nil, err
	}
	return f, nil
}

// Audit lists the form's append-only change trail in creation order.
func (s *FormService) Audit(tenantID, formID string) ([]FormAuditEntry, error) {
	if _, err := s.loadForm(tenantID, formID); err != nil {
		return nil, err
	}
	return s.store.ListFormAudit(formID)
}

func (s *FormService) loadForm(tenantID, id string) (*EvaluationForm, error) {
	if tenantID == "" {
		return nil, NewForbiddenError("unauthorized")
	}
	f, err := s.store.GetForm(id)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, NewNotFoundError("form not found")
	}
	if f.TenantID != tenantID {
		return nil, NewForbiddenError("forbidden")
	}
	rows, err := s.store.ListGroupRows(f.ID)
	if err != nil {
		return nil, err
	}
	groups, err := AssembleGroups(rows)
	if err != nil {
		return nil, err
	}
	f.Groups = groups
	return f, nil
}

func (s *FormService) mutableForm(tenantID, id string) (*EvaluationForm, error) {
	f, err := s.loadForm(tenantID, id)
	if err != nil {
		return nil, err
	}
	switch f.Status {
	case StatusDraft:
		return f, nil
	case StatusPublished:
		return nil, NewLifecycleError("published forms cannot be edited")
	case StatusArchived:
		return nil, NewLifecycleError("archived forms accept no changes")
	}
	return nil, NewLifecycleError("form is in unknown state " + string(f.Status))
}

func (s *FormService) appendAudit(formID string, kind AuditKind, actor string, changes []FormChange) error {
	return s.store.AddFormAudit(FormAuditEntry{
		FormID:  formID,
		Kind:    kind,
		Stamp:   Stamp{Actor: actor, At: s.now()},
		Changes: changes,
	})
}

func findRow(rows []GroupRow, id string) *GroupRow {
	for i := range rows {
		if rows[i].ID == id {
			return &rows[i]
		}
	}
	return nil
}

// subtreeIDs returns groupID plus every descendant id.
func subtreeIDs(rows []GroupRow, groupID string) []string {
	childIDs := map[string][]string{}
	for _, r := range rows {
		childIDs[r.ParentID] = append(childIDs[r.ParentID], r.ID)
	}
	out := []string{}
	queue := []string{groupID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		out = append(out, id)
		queue = append(queue, childIDs[id]...)
	}
	return out
}

func validateWindow(from, until *time.Time) error {
	if from != nil && until != nil && until.Before(*from) {
		return NewInvalidError("validity window ends before it starts")
	}
	return nil
}

func sameMoment(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func windowString(from, until *time.Time) string {
	fs, us := "open", "open"
	if from != nil {
		fs = from.UTC().Format(time.RFC3339)
	}
	if until != nil {
		us = until.UTC().Format(time.RFC3339)
	}
	return fs + ".." + us
}
