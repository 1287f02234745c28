package services

import (
	"fmt"
	"math/big"
	"strings"
)

// Policy codes persisted with runs and logged alongside totals.
const (
	PolicyCodeArithmeticMean = "arithmetic_mean"
	PolicyCodeWeightedMean   = "weighted_mean"
)

// PolicyDefinition is the design-time, unbound description of a scoring
// rule. The set of rules is closed; dispatch is a switch over the rule tag
// so a new variant fails loudly everywhere it matters.
type PolicyDefinition struct {
	rule CalcRule
}

func DefinitionFor(rule CalcRule) (PolicyDefinition, error) {
	switch rule {
	case RuleAverage, RuleWeightedAverage:
		return PolicyDefinition{rule: rule}, nil
	}
	return PolicyDefinition{}, NewInvalidError("unknown calculation rule " + string(rule))
}

// DefinitionForCode resolves a persisted policy code back to its
// definition, for re-binding a stored snapshot.
func DefinitionForCode(code string) (PolicyDefinition, error) {
	switch code {
	case PolicyCodeArithmeticMean:
		return PolicyDefinition{rule: RuleAverage}, nil
	case PolicyCodeWeightedMean:
		return PolicyDefinition{rule: RuleWeightedAverage}, nil
	}
	return PolicyDefinition{}, NewInvalidError("unknown policy code " + code)
}

func (d PolicyDefinition) Rule() CalcRule { return d.rule }

func (d PolicyDefinition) Code() string {
	if d.rule == RuleWeightedAverage {
		return PolicyCodeWeightedMean
	}
	return PolicyCodeArithmeticMean
}

// Verify checks the design-time form structure is compatible with the
// rule. It runs at edit/publish time, never at scoring time; scoring never
// proceeds on a failed verification.
func (d PolicyDefinition) Verify(form *EvaluationForm) error {
	if form == nil {
		return NewInvalidError("form required")
	}
	switch d.rule {
	case RuleAverage:
		return nil
	case RuleWeightedAverage:
		return verifyWeights(form.Criteria())
	}
	return NewInvalidError("unknown calculation rule " + string(d.rule))
}

// verifyWeights enforces the whole-form weight invariant: every criterion
// carries a weight and the weights sum to exactly 10000 bps. Verified, not
// auto-corrected.
func verifyWeights(crits []*Criterion) error {
	if len(crits) == 0 {
		return NewIncompatibleError("weighted mean requires at least one criterion")
	}
	total := 0
	for _, c := range crits {
		w, ok, err := c.Weight()
		if err != nil {
			return err
		}
		if !ok {
			return NewIncompatibleError(fmt.Sprintf("criterion %s carries no weight", c.ID))
		}
		total += w.Bps()
	}
	if total != MaxWeightBps {
		return NewIncompatibleError(fmt.Sprintf("criterion weights sum to %d bps, want %d", total, MaxWeightBps))
	}
	return nil
}

// Bind closes the definition over an immutable snapshot, producing the
// runtime Policy. Binding re-verifies against the snapshot's resolved
// criteria, so a policy in hand is always compatible with the snapshot it
// was bound to.
func (d PolicyDefinition) Bind(snap *RunFormSnapshot) (*Policy, error) {
	if snap == nil {
		return nil, NewInvalidError("snapshot required")
	}
	if snap.PolicyCode != d.Code() {
		return nil, NewIncompatibleError(fmt.Sprintf("snapshot resolved policy %s, definition is %s", snap.PolicyCode, d.Code()))
	}
	crits := snap.Criteria()
	if d.rule == RuleWeightedAverage {
		if err := verifyWeights(crits); err != nil {
			return nil, err
		}
	}
	return &Policy{rule: d.rule, code: d.Code(), snapshotID: snap.ID, criteria: crits}, nil
}

// Policy is the bound, runtime scoring rule. It remembers the identity of
// the snapshot it was bound to and refuses to total against any other.
type Policy struct {
	rule       CalcRule
	code       string
	snapshotID string
	criteria   []*Criterion
}

func (p *Policy) Code() string { return p.code }

// Verify guards against a mismatched snapshot being substituted after
// binding, e.g. a policy instance accidentally reused across runs.
func (p *Policy) Verify(snap *RunFormSnapshot) error {
	if snap == nil || snap.ID != p.snapshotID {
		return NewIncompatibleError("policy bound to a different snapshot")
	}
	if snap.PolicyCode != p.code {
		return NewIncompatibleError(fmt.Sprintf("snapshot carries policy %s, bound policy is %s", snap.PolicyCode, p.code))
	}
	return nil
}

// CriterionScore is one per-criterion result submitted for a run.
type CriterionScore struct {
	CriterionID string `json:"criterion_id"`
	Score       int    `json:"score"`
}

// Total computes the final score over the snapshot's criteria. A criterion
// missing from scores is an incomplete-scoring error, never treated as
// zero. All arithmetic is exact; only rendering the result rounds.
func (p *Policy) Total(snap *RunFormSnapshot, scores []CriterionScore) (*big.Rat, error) {
	if err := p.Verify(snap); err != nil {
		return nil, err
	}
	byID := make(map[string]int, len(scores))
	for _, s := range scores {
		if s.Score < 1 {
			return nil, NewInvalidError(fmt.Sprintf("score %d for criterion %s is not a positive integer", s.Score, s.CriterionID))
		}
		if _, dup := byID[s.CriterionID]; dup {
			return nil, NewInvalidError("duplicate score for criterion " + s.CriterionID)
		}
		byID[s.CriterionID] = s.Score
	}
	known := make(map[string]bool, len(p.criteria))
	for _, c := range p.criteria {
		known[c.ID] = true
	}
	for id := range byID {
		if !known[id] {
			return nil, NewInvalidError("score for criterion " + id + " not present in snapshot")
		}
	}

	switch p.rule {
	case RuleAverage:
		return arithmeticMean(p.criteria, byID)
	case RuleWeightedAverage:
		return weightedMean(p.criteria, byID)
	}
	return nil, NewInvalidError("unknown calculation rule " + string(p.rule))
}

func arithmeticMean(crits []*Criterion, byID map[string]int) (*big.Rat, error) {
	if len(crits) == 0 {
		return nil, NewIncompleteError("arithmetic mean over zero criteria is undefined")
	}
	sum := new(big.Rat)
	for _, c := range crits {
		v, ok := byID[c.ID]
		if !ok {
			return nil, NewIncompleteError("criterion " + c.ID + " has no score")
		}
		sum.Add(sum, big.NewRat(int64(v), 1))
	}
	return sum.Quo(sum, big.NewRat(int64(len(crits)), 1)), nil
}

func weightedMean(crits []*Criterion, byID map[string]int) (*big.Rat, error) {
	if len(crits) == 0 {
		return nil, NewIncompleteError("weighted mean over zero criteria is undefined")
	}
	num := new(big.Rat)
	den := new(big.Rat)
	for _, c := range crits {
		v, ok := byID[c.ID]
		if !ok {
			return nil, NewIncompleteError("criterion " + c.ID + " has no score")
		}
		w, has, err := c.Weight()
		if err != nil {
			return nil, err
		}
		if !has {
			return nil, NewIncompatibleError("criterion " + c.ID + " carries no weight")
		}
		pct := w.Percent()
		num.Add(num, new(big.Rat).Mul(big.NewRat(int64(v), 1), pct))
		den.Add(den, pct)
	}
	if den.Sign() == 0 {
		return nil, NewIncompatibleError("criterion weights sum to zero")
	}
	return num.Quo(num, den), nil
}

// FormatTotal renders an exact total to a decimal string with up to four
// fractional digits, trailing zeros trimmed. Four digits cover basis-point
// granularity exactly.
func FormatTotal(total *big.Rat) string {
	s := total.FloatString(4)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	if s == "" || s == "-" {
		return "0"
	}
	return s
}
