package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/docverctl/docverctl/internal/db/models"
)

func shippedSample() *models.AuditLog {
	path := "docs/guide.md"
	return &models.AuditLog{
		ActorGitHubID: 7,
		ActorLogin:    "hubot",
		Action:        models.AuditMove,
		ProjectID:     "proj-2",
		Path:          &path,
		Metadata:      map[string]interface{}{"to": "docs/guides/guide.md"},
		CreatedAt:     time.Now(),
	}
}

// ---------------------------------------------------------------------------
// FileShipper
// ---------------------------------------------------------------------------

func TestFileShipper_WritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	fs, err := NewFileShipper(&FileConfig{Path: path})
	if err != nil {
		t.Fatalf("NewFileShipper: %v", err)
	}
	defer fs.Close()

	if err := fs.Ship(context.Background(), shippedSample()); err != nil {
		t.Fatalf("Ship: %v", err)
	}
	if err := fs.Ship(context.Background(), shippedSample()); err != nil {
		t.Fatalf("Ship: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open audit log: %v", err)
	}
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry map[string]interface{}
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", lines+1, err)
		}
		if entry["action"] != models.AuditMove {
			t.Errorf("action = %v, want %s", entry["action"], models.AuditMove)
		}
		if entry["actor_login"] != "hubot" {
			t.Errorf("actor_login = %v, want hubot", entry["actor_login"])
		}
		lines++
	}
	if lines != 2 {
		t.Errorf("audit log holds %d lines, want 2", lines)
	}
}

// ---------------------------------------------------------------------------
// WebhookShipper
// ---------------------------------------------------------------------------

func TestWebhookShipper_PostsEntry(t *testing.T) {
	var received map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", r.Header.Get("Content-Type"))
		}
		if r.Header.Get("X-Audit-Source") != "docverctl" {
			t.Errorf("custom header missing, got %q", r.Header.Get("X-Audit-Source"))
		}
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	ws, err := NewWebhookShipper(&WebhookConfig{
		URL:     server.URL,
		Headers: map[string]string{"X-Audit-Source": "docverctl"},
	})
	if err != nil {
		t.Fatalf("NewWebhookShipper: %v", err)
	}
	defer ws.Close()

	if err := ws.Ship(context.Background(), shippedSample()); err != nil {
		t.Fatalf("Ship: %v", err)
	}
	if received["project_id"] != "proj-2" {
		t.Errorf("project_id = %v, want proj-2", received["project_id"])
	}
	if received["path"] != "docs/guide.md" {
		t.Errorf("path = %v, want docs/guide.md", received["path"])
	}
}

func TestWebhookShipper_ErrorStatusIsAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	ws, err := NewWebhookShipper(&WebhookConfig{URL: server.URL})
	if err != nil {
		t.Fatalf("NewWebhookShipper: %v", err)
	}
	defer ws.Close()

	if err := ws.Ship(context.Background(), shippedSample()); err == nil {
		t.Error("Ship returned nil for a 502 response, want error")
	}
}

// ---------------------------------------------------------------------------
// MultiShipper
// ---------------------------------------------------------------------------

func TestNewMultiShipper_SkipsDisabledAndRejectsUnknown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")

	ms, err := NewMultiShipper([]ShipperConfig{
		{Enabled: false, Type: "webhook"},
		{Enabled: true, Type: "file", File: &FileConfig{Path: path}},
	})
	if err != nil {
		t.Fatalf("NewMultiShipper: %v", err)
	}
	defer ms.Close()
	if len(ms.shippers) != 1 {
		t.Errorf("active shippers = %d, want 1 (disabled entries skipped)", len(ms.shippers))
	}

	if _, err := NewMultiShipper([]ShipperConfig{{Enabled: true, Type: "syslog"}}); err == nil {
		t.Error("NewMultiShipper accepted unknown shipper type")
	}

	if _, err := NewMultiShipper([]ShipperConfig{{Enabled: true, Type: "webhook"}}); err == nil {
		t.Error("NewMultiShipper accepted webhook shipper without webhook config")
	}
}

func TestMultiShipper_ContinuesPastFailures(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer down.Close()
	path := filepath.Join(t.TempDir(), "audit.log")

	ms, err := NewMultiShipper([]ShipperConfig{
		{Enabled: true, Type: "webhook", Webhook: &WebhookConfig{URL: down.URL}},
		{Enabled: true, Type: "file", File: &FileConfig{Path: path}},
	})
	if err != nil {
		t.Fatalf("NewMultiShipper: %v", err)
	}
	defer ms.Close()

	// The webhook fails but the file shipper must still receive the entry.
	_ = ms.Ship(context.Background(), shippedSample())

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	if len(data) == 0 {
		t.Error("file shipper received nothing after webhook failure")
	}
}
