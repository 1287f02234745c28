//go:build integration

package integration_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

func baseURL() string {
	if v := os.Getenv("GRADELINE_TEST_BASE_URL"); strings.TrimSpace(v) != "" {
		return strings.TrimRight(v, "/")
	}
	return "http://127.0.0.1:18080"
}

// TestRunFlowIntegration exercises the full journey against a running
// server: register, build a weighted form, publish it, start a run and
// submit scores, then check the audit trail and CSV export.
func TestRunFlowIntegration(t *testing.T) {
	client := &http.Client{Timeout: 5 * time.Second}
	base := baseURL()

	email := fmt.Sprintf("integration_%d@example.com", time.Now().UnixNano())
	password := "Secret123!"

	var register struct {
		Token    string `json:"token"`
		TenantID string `json:"tenant_id"`
	}
	doPost(t, client, base+"/api/auth/register", "", map[string]any{
		"email":    email,
		"password": password,
		"teamName": "Integration QA",
	}, &register)
	if register.Token == "" || register.TenantID == "" {
		t.Fatalf("unexpected register response: %+v", register)
	}
	token := register.Token

	var form struct {
		ID string `json:"id"`
	}
	doPost(t, client, base+"/api/forms", token, map[string]any{
		"title": "Call quality review",
		"code":  fmt.Sprintf("cq-%d", time.Now().UnixNano()),
		"rule":  "weighted_average",
	}, &form)
	if form.ID == "" {
		t.Fatalf("create form did not return id")
	}

	var group struct {
		ID string `json:"id"`
	}
	doPost(t, client, base+"/api/forms/"+form.ID+"/groups", token, map[string]any{
		"title": "Communication",
		"order": 1,
	}, &group)
	if group.ID == "" {
		t.Fatalf("add group did not return id")
	}

	criteria := []map[string]any{
		{
			"title": "Greeting", "order": 1, "weight_bps": 4000,
			"choices": []map[string]any{{"score": 1}, {"score": 3}, {"score": 5}},
		},
		{
			"title": "Closure", "order": 2, "weight_bps": 6000,
			"choices": []map[string]any{{"score": 1}, {"score": 3}, {"score": 5}},
		},
	}
	var critIDs []string
	for _, c := range criteria {
		var created struct {
			ID string `json:"id"`
		}
		doPost(t, client, base+"/api/forms/"+form.ID+"/groups/"+group.ID+"/criteria", token, c, &created)
		if created.ID == "" {
			t.Fatalf("add criterion did not return id")
		}
		critIDs = append(critIDs, created.ID)
	}

	var published struct {
		Status string `json:"status"`
	}
	doPost(t, client, base+"/api/forms/"+form.ID+"/publish", token, nil, &published)
	if published.Status != "published" {
		t.Fatalf("expected published status, got %q", published.Status)
	}

	var run struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	doPost(t, client, base+"/api/forms/"+form.ID+"/runs", token, map[string]string{
		"subject": "call-4711",
	}, &run)
	if run.ID == "" || run.Status != "started" {
		t.Fatalf("unexpected run: %+v", run)
	}

	var scored struct {
		Status string `json:"status"`
		Total  string `json:"total"`
	}
	doPost(t, client, base+"/api/runs/"+run.ID+"/scores", token, map[string]any{
		"scores": []map[string]any{
			{"criterion_id": critIDs[0], "score": 5},
			{"criterion_id": critIDs[1], "score": 3},
		},
	}, &scored)
	if scored.Status != "scored" {
		t.Fatalf("expected scored run, got %+v", scored)
	}
	// 5*0.4 + 3*0.6
	if scored.Total != "3.8" {
		t.Fatalf("expected total 3.8, got %q", scored.Total)
	}

	var audit struct {
		Entries []struct {
			Kind string `json:"kind"`
		} `json:"entries"`
	}
	doGet(t, client, base+"/api/forms/"+form.ID+"/audit", token, &audit)
	if len(audit.Entries) == 0 {
		t.Fatalf("expected audit entries")
	}
	if audit.Entries[0].Kind != "created" {
		t.Fatalf("first audit entry should be created, got %q", audit.Entries[0].Kind)
	}
	last := audit.Entries[len(audit.Entries)-1]
	if last.Kind != "published" {
		t.Fatalf("last audit entry should be published, got %q", last.Kind)
	}

	csv := doGetRaw(t, client, base+"/api/forms/"+form.ID+"/runs/export", token)
	if !strings.HasPrefix(csv, "run_id,") {
		t.Fatalf("unexpected CSV header: %q", firstLine(csv))
	}
	if !strings.Contains(csv, "call-4711") {
		t.Fatalf("CSV export should contain the run subject")
	}
}

func doPost(t *testing.T, client *http.Client, url, token string, body any, out any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body for %s: %v", url, err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, url, &buf)
	if err != nil {
		t.Fatalf("new request %s: %v", url, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST %s returned %d: %s", url, resp.StatusCode, raw)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			t.Fatalf("decode response from %s: %v (%s)", url, err, raw)
		}
	}
}

func doGet(t *testing.T, client *http.Client, url, token string, out any) {
	t.Helper()
	raw := doGetRaw(t, client, url, token)
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		t.Fatalf("decode response from %s: %v (%s)", url, err, raw)
	}
}

func doGetRaw(t *testing.T, client *http.Client, url, token string) string {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new request %s: %v", url, err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s returned %d: %s", url, resp.StatusCode, raw)
	}
	return string(raw)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
