package api

import "github.com/gradeline/gradeline/internal/services"

// Store is the full persistence surface behind the API. The services own
// narrower per-service interfaces (services.FormStore, services.RunStore,
// services.AuthStore); any Store satisfies all of them.
type Store interface {
	InsertForm(f *services.EvaluationForm) (*services.EvaluationForm, error)
	GetForm(id string) (*services.EvaluationForm, error)
	FindFormByCode(tenantID, code string) (*services.EvaluationForm, error)
	UpdateForm(f *services.EvaluationForm) error
	DeleteForm(id string) error
	ListFormsByTenant(tenantID string) ([]*services.EvaluationForm, error)

	UpsertGroupRow(row services.GroupRow) error
	DeleteGroupRows(formID string, ids []string) error
	ListGroupRows(formID string) ([]services.GroupRow, error)

	AddFormAudit(e services.FormAuditEntry) error
	ListFormAudit(formID string) ([]services.FormAuditEntry, error)

	InsertRun(r *services.Run) (*services.Run, error)
	GetRun(id string) (*services.Run, error)
	UpdateRun(r *services.Run) error
	ListRunsByForm(formID string) ([]*services.Run, error)

	AddTenant(t *services.Tenant) error
	AddUser(u *services.User) error
	FindUserByEmail(email string) (*services.User, error)
}

var _ Store = (*memoryStore)(nil)

var (
	_ services.FormStore = (Store)(nil)
	_ services.RunStore  = (Store)(nil)
	_ services.AuthStore = (Store)(nil)
)
