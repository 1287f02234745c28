package services

import "time"

// RunFormSnapshot is the deep, immutable copy of a form's group/criteria
// tree taken when a run starts. It shares no structure with the live form,
// so later form edits never retroactively change historical scoring.
type RunFormSnapshot struct {
	ID         string       `json:"id"`
	FormID     string       `json:"form_id"`
	FormCode   string       `json:"form_code"`
	PolicyCode string       `json:"policy_code"`
	TakenAt    time.Time    `json:"taken_at"`
	Groups     []*FormGroup `json:"groups,omitempty"`
}

// CaptureSnapshot copies the form's tree and resolves its policy code.
func CaptureSnapshot(form *EvaluationForm, at time.Time) (*RunFormSnapshot, error) {
	if form == nil {
		return nil, NewInvalidError("form required")
	}
	def, err := DefinitionFor(form.Rule)
	if err != nil {
		return nil, err
	}
	return &RunFormSnapshot{
		ID:         shortID(12),
		FormID:     form.ID,
		FormCode:   form.Code,
		PolicyCode: def.Code(),
		TakenAt:    at,
		Groups:     CloneGroups(form.Groups),
	}, nil
}

// Criteria returns every criterion in the snapshot in depth-first group
// order.
func (s *RunFormSnapshot) Criteria() []*Criterion {
	return collectCriteria(s.Groups)
}

// CloneGroups deep-copies a group tree, criteria and choices included.
func CloneGroups(groups []*FormGroup) []*FormGroup {
	if groups == nil {
		return nil
	}
	out := make([]*FormGroup, 0, len(groups))
	for _, g := range groups {
		out = append(out, cloneGroup(g))
	}
	return out
}

func cloneGroup(g *FormGroup) *FormGroup {
	if g == nil {
		return nil
	}
	return &FormGroup{
		ID:       g.ID,
		Title:    g.Title,
		Order:    g.Order,
		Criteria: cloneCriteria(g.Criteria),
		Children: CloneGroups(g.Children),
	}
}

func cloneCriteria(cs []*Criterion) []*Criterion {
	if cs == nil {
		return nil
	}
	out := make([]*Criterion, 0, len(cs))
	for _, c := range cs {
		out = append(out, cloneCriterion(c))
	}
	return out
}

func cloneCriterion(c *Criterion) *Criterion {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Choices = append([]Choice(nil), c.Choices...)
	if c.WeightBps != nil {
		bps := *c.WeightBps
		cp.WeightBps = &bps
	}
	if c.Auto != nil {
		auto := *c.Auto
		cp.Auto = &auto
	}
	return &cp
}

// CloneForm deep-copies a form aggregate.
func CloneForm(f *EvaluationForm) *EvaluationForm {
	if f == nil {
		return nil
	}
	cp := *f
	if f.ValidFrom != nil {
		t := *f.ValidFrom
		cp.ValidFrom = &t
	}
	if f.ValidUntil != nil {
		t := *f.ValidUntil
		cp.ValidUntil = &t
	}
	cp.Groups = CloneGroups(f.Groups)
	return &cp
}
