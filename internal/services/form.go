package services

import "time"

type FormStatus string

const (
	StatusDraft     FormStatus = "draft"
	StatusPublished FormStatus = "published"
	StatusArchived  FormStatus = "archived"
)

// CalcRule selects the scoring rule attached to a form at design time.
type CalcRule string

const (
	RuleAverage         CalcRule = "average"
	RuleWeightedAverage CalcRule = "weighted_average"
)

// Choice is one selectable score option on a criterion.
type Choice struct {
	Score      int    `json:"score"`
	Caption    string `json:"caption,omitempty"`
	Annotation string `json:"annotation,omitempty"`
	// Condition is matched against the resolved parameter value for
	// automatic criteria.
	Condition string `json:"condition,omitempty"`
}

// AutoSelection marks a criterion whose value is derived from an external
// measurement instead of manual grading.
type AutoSelection struct {
	Source string `json:"source"`
	Rule   string `json:"rule"`
}

type Criterion struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Choices     []Choice       `json:"choices"`
	Order       int            `json:"order"`
	WeightBps   *int           `json:"weight_bps,omitempty"`
	Auto        *AutoSelection `json:"auto,omitempty"`
}

// Weight returns the criterion's placement weight, or ok=false when the
// criterion carries none.
func (c *Criterion) Weight() (Weight, bool, error) {
	if c.WeightBps == nil {
		return Weight{}, false, nil
	}
	w, err := NewWeight(*c.WeightBps)
	if err != nil {
		return Weight{}, false, err
	}
	return w, true, nil
}

// FormGroup exclusively owns its local criteria and its child groups;
// deleting a group cascades to both.
type FormGroup struct {
	ID       string       `json:"id"`
	Title    string       `json:"title"`
	Order    int          `json:"order"`
	Criteria []*Criterion `json:"criteria,omitempty"`
	Children []*FormGroup `json:"children,omitempty"`
}

type EvaluationForm struct {
	ID          string       `json:"id"`
	TenantID    string       `json:"tenant_id,omitempty"`
	Code        string       `json:"code,omitempty"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	ValidFrom   *time.Time   `json:"valid_from,omitempty"`
	ValidUntil  *time.Time   `json:"valid_until,omitempty"`
	Rule        CalcRule     `json:"rule"`
	Status      FormStatus   `json:"status"`
	Groups      []*FormGroup `json:"groups,omitempty"`
}

// Active reports whether at lies within the form's validity window,
// inclusive on both bounds. An unset bound is open-ended.
func (f *EvaluationForm) Active(at time.Time) bool {
	if f.ValidFrom != nil && at.Before(*f.ValidFrom) {
		return false
	}
	if f.ValidUntil != nil && at.After(*f.ValidUntil) {
		return false
	}
	return true
}

// Criteria returns every criterion in the form in depth-first group order.
func (f *EvaluationForm) Criteria() []*Criterion {
	return collectCriteria(f.Groups)
}

func collectCriteria(groups []*FormGroup) []*Criterion {
	var out []*Criterion
	for _, g := range groups {
		out = append(out, g.Criteria...)
		out = append(out, collectCriteria(g.Children)...)
	}
	return out
}

// Audit trail types. Entries are append-only: created once per mutating
// operation, never updated or deleted.

type AuditKind string

const (
	AuditCreated   AuditKind = "created"
	AuditEdited    AuditKind = "edited"
	AuditPublished AuditKind = "published"
	AuditArchived  AuditKind = "archived"
)

type Stamp struct {
	Actor string    `json:"actor"`
	At    time.Time `json:"at"`
}

type FormChange struct {
	Field    string `json:"field"`
	OldValue string `json:"old_value"`
	NewValue string `json:"new_value"`
}

type FormAuditEntry struct {
	FormID  string       `json:"form_id"`
	Kind    AuditKind    `json:"kind"`
	Stamp   Stamp        `json:"stamp"`
	Changes []FormChange `json:"changes,omitempty"`
}

func validateCriterion(c *Criterion) error {
	if c == nil {
		return NewInvalidError("criterion required")
	}
	if c.Title == "" {
		return NewInvalidError("criterion title required")
	}
	if len(c.Choices) == 0 {
		return NewInvalidError("criterion needs at least one choice")
	}
	for _, ch := range c.Choices {
		if ch.Score < 1 {
			return NewInvalidError("choice score must be a positive integer")
		}
	}
	if _, _, err := c.Weight(); err != nil {
		return err
	}
	if c.Auto != nil && c.Auto.Source == "" {
		return NewInvalidError("auto selection requires a source")
	}
	return nil
}
