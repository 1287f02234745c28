package services

import (
	"fmt"
	"time"
)

type RunStatus string

const (
	RunStarted RunStatus = "started"
	RunScored  RunStatus = "scored"
)

// Run is one application of a form's scoring to a recorded interaction.
// It owns its snapshot exclusively; the snapshot never changes after the
// run starts.
type Run struct {
	ID        string           `json:"id"`
	FormID    string           `json:"form_id"`
	TenantID  string           `json:"tenant_id"`
	Subject   string           `json:"subject"`
	Status    RunStatus        `json:"status"`
	StartedAt time.Time        `json:"started_at"`
	ScoredAt  *time.Time       `json:"scored_at,omitempty"`
	Snapshot  *RunFormSnapshot `json:"snapshot"`
	Scores    []CriterionScore `json:"scores,omitempty"`
	Total     string           `json:"total,omitempty"`
}

// RunStore abstracts persistence operations required by RunService.
type RunStore interface {
	GetForm(id string) (*EvaluationForm, error)
	ListGroupRows(formID string) ([]GroupRow, error)
	InsertRun(r *Run) (*Run, error)
	GetRun(id string) (*Run, error)
	UpdateRun(r *Run) error
	ListRunsByForm(formID string) ([]*Run, error)
}

// AutoParamSource resolves automatic-criterion measurements. Lookup
// returns the measured value for a source/rule pair against a subject;
// the value is matched against the choices' condition values.
type AutoParamSource interface {
	Lookup(source, rule, subject string) (string, error)
}

type RunService struct {
	store  RunStore
	params AutoParamSource
	now    func() time.Time
	idGen  func(n int) string
}

func NewRunService(store RunStore, params AutoParamSource) *RunService {
	return &RunService{
		store:  store,
		params: params,
		now:    func() time.Time { return time.Now().UTC() },
		idGen:  shortID,
	}
}

// StartRun snapshots the form and opens a run against a subject. The form
// must be published and inside its validity window. Automatic criteria
// are resolved immediately so their scores are part of the run from the
// start.
func (s *RunService) StartRun(tenantID, formID, subject string) (*Run, error) {
	if tenantID == "" {
		return nil, NewForbiddenError("unauthorized")
	}
	f, err := s.store.GetForm(formID)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, NewNotFoundError("form not found")
	}
	if f.TenantID != tenantID {
		return nil, NewForbiddenError("forbidden")
	}
	if f.Status != StatusPublished {
		return nil, NewLifecycleError("runs can only start on published forms")
	}
	now := s.now()
	if !f.Active(now) {
		return nil, NewLifecycleError("form is outside its validity window")
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
	snap, err := CaptureSnapshot(f, now)
	if err != nil {
		return nil, err
	}
	auto, err := s.resolveAutoScores(snap, subject)
	if err != nil {
		return nil, err
	}
	run := &Run{
		ID:        s.idGen(12),
		FormID:    f.ID,
		TenantID:  tenantID,
		Subject:   subject,
		Status:    RunStarted,
		StartedAt: now,
		Snapshot:  snap,
		Scores:    auto,
	}
	created, err := s.store.InsertRun(run)
	if err != nil {
		return nil, err
	}
	if created == nil {
		created = run
	}
	return created, nil
}

// SubmitScores merges the manually graded scores with the auto-resolved
// ones, computes the final total under the snapshot's policy, and closes
// the run. Manual scores for automatic criteria are rejected.
func (s *RunService) SubmitScores(tenantID, runID string, scores []CriterionScore) (*Run, error) {
	run, err := s.ownedRun(tenantID, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != RunStarted {
		return nil, NewLifecycleError("run is already scored")
	}
	autoIDs := make(map[string]bool)
	for _, c := range run.Snapshot.Criteria() {
		if c.Auto != nil {
			autoIDs[c.ID] = true
		}
	}
	merged := append([]CriterionScore(nil), run.Scores...)
	for _, sc := range scores {
		if autoIDs[sc.CriterionID] {
			return nil, NewInvalidError("criterion " + sc.CriterionID + " is scored automatically")
		}
		merged = append(merged, sc)
	}
	def, err := DefinitionForCode(run.Snapshot.PolicyCode)
	if err != nil {
		return nil, err
	}
	policy, err := def.Bind(run.Snapshot)
	if err != nil {
		return nil, err
	}
	total, err := policy.Total(run.Snapshot, merged)
	if err != nil {
		return nil, err
	}
	now := s.now()
	run.Scores = merged
	run.Total = FormatTotal(total)
	run.Status = RunScored
	run.ScoredAt = &now
	if err := s.store.UpdateRun(run); err != nil {
		return nil, err
	}
	return run, nil
}

func (s *RunService) GetRun(tenantID, runID string) (*Run, error) {
	return s.ownedRun(tenantID, runID)
}

func (s *RunService) ListRuns(tenantID, formID string) ([]*Run, error) {
	if tenantID == "" {
		return nil, NewForbiddenError("unauthorized")
	}
	f, err := s.store.GetForm(formID)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, NewNotFoundError("form not found")
	}
	if f.TenantID != tenantID {
		return nil, NewForbiddenError("forbidden")
	}
	return s.store.ListRunsByForm(formID)
}

func (s *RunService) ownedRun(tenantID, runID string) (*Run, error) {
	if tenantID == "" {
		return nil, NewForbiddenError("unauthorized")
	}
	run, err := s.store.GetRun(runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, NewNotFoundError("run not found")
	}
	if run.TenantID != tenantID {
		return nil, NewForbiddenError("forbidden")
	}
	return run, nil
}

// resolveAutoScores looks up each automatic criterion's measured value
// and selects the choice whose condition matches it.
func (s *RunService) resolveAutoScores(snap *RunFormSnapshot, subject string) ([]CriterionScore, error) {
	var out []CriterionScore
	for _, c := range snap.Criteria() {
		if c.Auto == nil {
			continue
		}
		if s.params == nil {
			return nil, NewInvalidError("no parameter source configured for automatic criterion " + c.ID)
		}
		value, err := s.params.Lookup(c.Auto.Source, c.Auto.Rule, subject)
		if err != nil {
			return nil, fmt.Errorf("resolve automatic criterion %s: %w", c.ID, err)
		}
		matched := false
		for _, ch := range c.Choices {
			if ch.Condition == value {
				out = append(out, CriterionScore{CriterionID: c.ID, Score: ch.Score})
				matched = true
				break
			}
		}
		if !matched {
			return nil, NewIncompleteError(fmt.Sprintf("no choice on criterion %s matches value %q", c.ID, value))
		}
	}
	return out, nil
}
