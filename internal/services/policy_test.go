package services

import (
	"math/big"
	"testing"
	"time"
)

func intPtr(v int) *int { return &v }

func likert(id string, weightBps *int) *Criterion {
	return &Criterion{
		ID:    id,
		Title: "criterion " + id,
		Choices: []Choice{
			{Score: 1}, {Score: 2}, {Score: 3}, {Score: 4}, {Score: 5},
		},
		WeightBps: weightBps,
	}
}

func formWith(rule CalcRule, crits ...*Criterion) *EvaluationForm {
	return &EvaluationForm{
		ID:     "f1",
		Code:   "QA-1",
		Title:  "Call review",
		Rule:   rule,
		Status: StatusDraft,
		Groups: []*FormGroup{{ID: "g1", Title: "root", Criteria: crits}},
	}
}

func mustSnapshot(t *testing.T, form *EvaluationForm) *RunFormSnapshot {
	t.Helper()
	snap, err := CaptureSnapshot(form, time.Unix(1700000000, 0).UTC())
	if err != nil {
		t.Fatalf("CaptureSnapshot: %v", err)
	}
	return snap
}

func TestWeightedMeanVerify(t *testing.T) {
	cases := []struct {
		name string
		bps  []int
		ok   bool
	}{
		{"sums to 10000", []int{3000, 3000, 4000}, true},
		{"single full weight", []int{10000}, true},
		{"under", []int{3000, 3000, 3000}, false},
		{"over", []int{6000, 6000}, false},
		{"zero criteria handled separately", []int{}, false},
	}
	for _, c := range cases {
		crits := make([]*Criterion, 0, len(c.bps))
		for i, bps := range c.bps {
			crits = append(crits, likert(string(rune('a'+i)), intPtr(bps)))
		}
		def, err := DefinitionFor(RuleWeightedAverage)
		if err != nil {
			t.Fatalf("DefinitionFor: %v", err)
		}
		err = def.Verify(formWith(RuleWeightedAverage, crits...))
		if c.ok && err != nil {
			t.Fatalf("%s: Verify returned error: %v", c.name, err)
		}
		if !c.ok {
			se, isSE := AsServiceError(err)
			if err == nil || !isSE || se.Code != ErrorIncompatible {
				t.Fatalf("%s: error = %v, want %v", c.name, err, ErrorIncompatible)
			}
		}
	}
}

func TestWeightedMeanVerifyMissingWeight(t *testing.T) {
	def, _ := DefinitionFor(RuleWeightedAverage)
	form := formWith(RuleWeightedAverage, likert("a", intPtr(5000)), likert("b", nil))
	err := def.Verify(form)
	se, ok := AsServiceError(err)
	if err == nil || !ok || se.Code != ErrorIncompatible {
		t.Fatalf("missing weight: error = %v, want %v", err, ErrorIncompatible)
	}
}

func TestArithmeticMeanVerifyHasNoWeightConstraint(t *testing.T) {
	def, _ := DefinitionFor(RuleAverage)
	form := formWith(RuleAverage, likert("a", nil), likert("b", nil))
	if err := def.Verify(form); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestArithmeticMeanTotal(t *testing.T) {
	form := formWith(RuleAverage, likert("a", nil), likert("b", nil), likert("c", nil))
	// Choices go to 5 only; use a wider choice set for score 6.
	form.Groups[0].Criteria[2].Choices = append(form.Groups[0].Criteria[2].Choices, Choice{Score: 6})
	snap := mustSnapshot(t, form)
	def, _ := DefinitionFor(RuleAverage)
	policy, err := def.Bind(snap)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	total, err := policy.Total(snap, []CriterionScore{
		{CriterionID: "a", Score: 2},
		{CriterionID: "b", Score: 4},
		{CriterionID: "c", Score: 6},
	})
	if err != nil {
		t.Fatalf("Total: %v", err)
	}
	if got := FormatTotal(total); got != "4" {
		t.Fatalf("Total = %s, want 4", got)
	}
}

func TestArithmeticMeanEmptyScoresFails(t *testing.T) {
	form := formWith(RuleAverage, likert("a", nil))
	snap := mustSnapshot(t, form)
	def, _ := DefinitionFor(RuleAverage)
	policy, err := def.Bind(snap)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	_, err = policy.Total(snap, nil)
	se, ok := AsServiceError(err)
	if err == nil || !ok || se.Code != ErrorIncomplete {
		t.Fatalf("empty scores: error = %v, want %v", err, ErrorIncomplete)
	}
}

func TestWeightedMeanTotal(t *testing.T) {
	form := formWith(RuleWeightedAverage,
		likert("a", intPtr(3000)),
		likert("b", intPtr(3000)),
		likert("c", intPtr(4000)),
	)
	snap := mustSnapshot(t, form)
	def, _ := DefinitionFor(RuleWeightedAverage)
	policy, err := def.Bind(snap)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	scores := []CriterionScore{
		{CriterionID: "a", Score: 4},
		{CriterionID: "b", Score: 3},
		{CriterionID: "c", Score: 5},
	}
	total, err := policy.Total(snap, scores)
	if err != nil {
		t.Fatalf("Total: %v", err)
	}
	if got := FormatTotal(total); got != "4.1" {
		t.Fatalf("Total = %s, want 4.1", got)
	}
	// Identical inputs stay exact across repeated runs.
	again, err := policy.Total(snap, scores)
	if err != nil {
		t.Fatalf("second Total: %v", err)
	}
	if total.Cmp(again) != 0 {
		t.Fatalf("repeated totals differ: %s vs %s", total, again)
	}
}

func TestWeightedMeanTotalMissingScore(t *testing.T) {
	form := formWith(RuleWeightedAverage, likert("a", intPtr(5000)), likert("b", intPtr(5000)))
	snap := mustSnapshot(t, form)
	def, _ := DefinitionFor(RuleWeightedAverage)
	policy, err := def.Bind(snap)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	_, err = policy.Total(snap, []CriterionScore{{CriterionID: "a", Score: 5}})
	se, ok := AsServiceError(err)
	if err == nil || !ok || se.Code != ErrorIncomplete {
		t.Fatalf("missing score: error = %v, want %v", err, ErrorIncomplete)
	}
}

func TestTotalRejectsUnknownAndDuplicateScores(t *testing.T) {
	form := formWith(RuleAverage, likert("a", nil))
	snap := mustSnapshot(t, form)
	def, _ := DefinitionFor(RuleAverage)
	policy, _ := def.Bind(snap)

	if _, err := policy.Total(snap, []CriterionScore{
		{CriterionID: "a", Score: 3},
		{CriterionID: "ghost", Score: 3},
	}); err == nil {
		t.Fatalf("unknown criterion should fail")
	}
	if _, err := policy.Total(snap, []CriterionScore{
		{CriterionID: "a", Score: 3},
		{CriterionID: "a", Score: 4},
	}); err == nil {
		t.Fatalf("duplicate score should fail")
	}
	if _, err := policy.Total(snap, []CriterionScore{
		{CriterionID: "a", Score: 0},
	}); err == nil {
		t.Fatalf("non-positive score should fail")
	}
}

func TestPolicyVerifyRejectsSubstitutedSnapshot(t *testing.T) {
	formA := formWith(RuleAverage, likert("a", nil))
	formB := formWith(RuleAverage, likert("b", nil))
	snapA := mustSnapshot(t, formA)
	snapB := mustSnapshot(t, formB)
	def, _ := DefinitionFor(RuleAverage)
	policy, err := def.Bind(snapA)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if err := policy.Verify(snapA); err != nil {
		t.Fatalf("Verify against own snapshot: %v", err)
	}
	err = policy.Verify(snapB)
	se, ok := AsServiceError(err)
	if err == nil || !ok || se.Code != ErrorIncompatible {
		t.Fatalf("substituted snapshot: error = %v, want %v", err, ErrorIncompatible)
	}
	if _, err := policy.Total(snapB, []CriterionScore{{CriterionID: "b", Score: 3}}); err == nil {
		t.Fatalf("Total against substituted snapshot should fail")
	}
}

func TestBindRejectsMismatchedPolicyCode(t *testing.T) {
	form := formWith(RuleAverage, likert("a", nil))
	snap := mustSnapshot(t, form)
	def, _ := DefinitionFor(RuleWeightedAverage)
	if _, err := def.Bind(snap); err == nil {
		t.Fatalf("binding weighted definition to arithmetic snapshot should fail")
	}
}

func TestDefinitionCodes(t *testing.T) {
	cases := []struct {
		rule CalcRule
		code string
	}{
		{RuleAverage, PolicyCodeArithmeticMean},
		{RuleWeightedAverage, PolicyCodeWeightedMean},
	}
	for _, c := range cases {
		def, err := DefinitionFor(c.rule)
		if err != nil {
			t.Fatalf("DefinitionFor(%s): %v", c.rule, err)
		}
		if def.Code() != c.code {
			t.Fatalf("Code(%s) = %s, want %s", c.rule, def.Code(), c.code)
		}
		back, err := DefinitionForCode(c.code)
		if err != nil {
			t.Fatalf("DefinitionForCode(%s): %v", c.code, err)
		}
		if back.Rule() != c.rule {
			t.Fatalf("round trip rule = %s, want %s", back.Rule(), c.rule)
		}
	}
	if _, err := DefinitionFor("median"); err == nil {
		t.Fatalf("unknown rule should fail")
	}
	if _, err := DefinitionForCode("median"); err == nil {
		t.Fatalf("unknown code should fail")
	}
}

func TestFormatTotal(t *testing.T) {
	cases := []struct {
		num, den int64
		want     string
	}{
		{41, 10, "4.1"},
		{4, 1, "4"},
		{1, 3, "0.3333"},
		{0, 1, "0"},
		{1234567, 10000, "123.4567"},
	}
	for _, c := range cases {
		got := FormatTotal(big.NewRat(c.num, c.den))
		if got != c.want {
			t.Fatalf("FormatTotal(%d/%d) = %s, want %s", c.num, c.den, got, c.want)
		}
	}
}
