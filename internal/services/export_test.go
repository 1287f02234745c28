package services

import (
	"strings"
	"testing"
	"time"
)

func TestExportRunsCSV(t *testing.T) {
	started := time.Unix(1700000000, 0).UTC()
	scored := started.Add(10 * time.Minute)
	runs := []*Run{
		{
			ID: "r1", FormID: "f1", Subject: "call-42",
			Status: RunScored, StartedAt: started, ScoredAt: &scored,
			Snapshot: &RunFormSnapshot{FormCode: "QA-1", PolicyCode: PolicyCodeWeightedMean},
			Total:    "4.1",
		},
		{
			ID: "r2", FormID: "f1", Subject: "call-43",
			Status: RunStarted, StartedAt: started,
			Snapshot: &RunFormSnapshot{FormCode: "QA-1", PolicyCode: PolicyCodeWeightedMean},
		},
	}
	b, err := ExportRunsCSV(runs)
	if err != nil {
		t.Fatalf("ExportRunsCSV: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "run_id,form_id,form_code,subject,policy") {
		t.Fatalf("unexpected header %q", lines[0])
	}
	if !strings.Contains(lines[1], "4.1") || !strings.Contains(lines[1], "weighted_mean") {
		t.Fatalf("scored row missing fields: %q", lines[1])
	}
	if !strings.HasSuffix(lines[2], ",started,"+started.Format(time.RFC3339)+",,") {
		t.Fatalf("open run row malformed: %q", lines[2])
	}
}

func TestExportAuditCSV(t *testing.T) {
	at := time.Unix(1700000000, 0).UTC()
	entries := []FormAuditEntry{
		{FormID: "f1", Kind: AuditCreated, Stamp: Stamp{Actor: "alice", At: at}},
		{FormID: "f1", Kind: AuditEdited, Stamp: Stamp{Actor: "bob", At: at}, Changes: []FormChange{
			{Field: "title", OldValue: "a", NewValue: "b"},
			{Field: "code", OldValue: "", NewValue: "QA-1"},
		}},
	}
	b, err := ExportAuditCSV(entries)
	if err != nil {
		t.Fatalf("ExportAuditCSV: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	// header + created row + two change rows
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d: %v", len(lines), lines)
	}
	if !strings.Contains(lines[1], "created") || !strings.Contains(lines[1], "alice") {
		t.Fatalf("created row malformed: %q", lines[1])
	}
	if !strings.Contains(lines[2], "title") || !strings.Contains(lines[3], "QA-1") {
		t.Fatalf("change rows malformed: %v", lines[2:])
	}
}
