package services

import (
	"bytes"
	"encoding/csv"
	"time"
)

// ExportRunsCSV renders a form's runs into CSV, one row per run.
func ExportRunsCSV(runs []*Run) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	_ = w.Write([]string{"run_id", "form_id", "form_code", "subject", "policy", "status", "started_at", "scored_at", "total"})
	for _, r := range runs {
		scoredAt := ""
		if r.ScoredAt != nil {
			scoredAt = r.ScoredAt.UTC().Format(time.RFC3339)
		}
		code, policy := "", ""
		if r.Snapshot != nil {
			code = r.Snapshot.FormCode
			policy = r.Snapshot.PolicyCode
		}
		rec := []string{
			r.ID,
			r.FormID,
			code,
			r.Subject,
			policy,
			string(r.Status),
			r.StartedAt.UTC().Format(time.RFC3339),
			scoredAt,
			r.Total,
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// ExportAuditCSV renders a form's audit trail into CSV, one row per
// field-level change. Entries without changes still emit one row.
func ExportAuditCSV(entries []FormAuditEntry) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	_ = w.Write([]string{"form_id", "kind", "actor", "at", "field", "old_value", "new_value"})
	for _, e := range entries {
		at := e.Stamp.At.UTC().Format(time.RFC3339)
		if len(e.Changes) == 0 {
			if err := w.Write([]string{e.FormID, string(e.Kind), e.Stamp.Actor, at, "", "", ""}); err != nil {
				return nil, err
			}
			continue
		}
		for _, c := range e.Changes {
			if err := w.Write([]string{e.FormID, string(e.Kind), e.Stamp.Actor, at, c.Field, c.OldValue, c.NewValue}); err != nil {
				return nil, err
			}
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}
