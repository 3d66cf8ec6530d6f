package admin

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/lib/pq"

	"github.com/docverctl/docverctl/internal/db/repositories"
	"github.com/docverctl/docverctl/internal/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var allowlistColumns = []string{"id", "github_user_id", "github_login", "is_admin", "added_by", "added_at"}

func newAdminRouter(t *testing.T) (*gin.Engine, sqlmock.Sqlmock) {
	t.Helper()

	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	mock.MatchExpectationsInOrder(false)

	h := NewHandler(
		repositories.NewAllowedUserRepository(conn),
		repositories.NewAuditRepository(conn))

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(middleware.GitHubIDKey, int64(42))
		c.Set(middleware.GitHubLoginKey, "octocat")
		c.Set(middleware.IsAdminKey, true)
	})
	router.GET("/allowlist", h.ListAllowlist)
	router.POST("/allowlist", h.AddUser)
	router.PATCH("/allowlist/:id", h.SetAdmin)
	router.DELETE("/allowlist/:id", h.RemoveUser)
	router.GET("/audit-logs", h.ListAuditLogs)

	return router, mock
}

func doJSON(router *gin.Engine, method, target string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestListAllowlist(t *testing.T) {
	router, mock := newAdminRouter(t)
	addedBy := "octocat"
	mock.ExpectQuery("SELECT (.+) FROM allowed_users").WillReturnRows(
		sqlmock.NewRows(allowlistColumns).
			AddRow("entry-1", int64(7), "hubot", false, &addedBy, time.Now()).
			AddRow("entry-2", int64(42), "octocat", true, nil, time.Now()))

	w := doJSON(router, http.MethodGet, "/allowlist", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Users []map[string]interface{} `json:"users"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Users) != 2 {
		t.Fatalf("users = %d, want 2", len(resp.Users))
	}
	if resp.Users[0]["github_login"] != "hubot" {
		t.Errorf("first login = %v", resp.Users[0]["github_login"])
	}
}

func TestAddUser_LowercasesLogin(t *testing.T) {
	router, mock := newAdminRouter(t)
	mock.ExpectExec("INSERT INTO allowed_users").WillReturnResult(sqlmock.NewResult(0, 1))

	w := doJSON(router, http.MethodPost, "/allowlist", gin.H{
		"github_user_id": 7,
		"github_login":   " Hubot ",
	})

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["github_login"] != "hubot" {
		t.Errorf("login = %v, want hubot", resp["github_login"])
	}
}

func TestAddUser_Duplicate(t *testing.T) {
	router, mock := newAdminRouter(t)
	mock.ExpectExec("INSERT INTO allowed_users").WillReturnError(&pq.Error{Code: "23505"})

	w := doJSON(router, http.MethodPost, "/allowlist", gin.H{
		"github_user_id": 7,
		"github_login":   "hubot",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
}

func TestSetAdmin_SelfDemotionRefused(t *testing.T) {
	router, mock := newAdminRouter(t)
	mock.ExpectQuery("SELECT (.+) FROM allowed_users").WillReturnRows(
		sqlmock.NewRows(allowlistColumns).
			AddRow("entry-2", int64(42), "octocat", true, nil, time.Now()))

	w := doJSON(router, http.MethodPatch, "/allowlist/entry-2", gin.H{"is_admin": false})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestSetAdmin_PromotesOtherUser(t *testing.T) {
	router, mock := newAdminRouter(t)
	mock.ExpectQuery("SELECT (.+) FROM allowed_users").WillReturnRows(
		sqlmock.NewRows(allowlistColumns).
			AddRow("entry-1", int64(7), "hubot", false, nil, time.Now()))
	mock.ExpectExec("UPDATE allowed_users").WillReturnResult(sqlmock.NewResult(0, 1))

	w := doJSON(router, http.MethodPatch, "/allowlist/entry-1", gin.H{"is_admin": true})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRemoveUser_SelfRemovalRefused(t *testing.T) {
	router, mock := newAdminRouter(t)
	mock.ExpectQuery("SELECT (.+) FROM allowed_users").WillReturnRows(
		sqlmock.NewRows(allowlistColumns).
			AddRow("entry-2", int64(42), "octocat", true, nil, time.Now()))

	w := doJSON(router, http.MethodDelete, "/allowlist/entry-2", nil)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestRemoveUser_UnknownEntry(t *testing.T) {
	router, mock := newAdminRouter(t)
	mock.ExpectQuery("SELECT (.+) FROM allowed_users").WillReturnRows(
		sqlmock.NewRows(allowlistColumns))

	w := doJSON(router, http.MethodDelete, "/allowlist/ghost", nil)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestListAuditLogs_DefaultsAndFilters(t *testing.T) {
	router, mock := newAdminRouter(t)
	mock.ExpectQuery("SELECT COUNT(.+) FROM audit_logs").WillReturnRows(
		sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT (.+) FROM audit_logs").WillReturnRows(
		sqlmock.NewRows([]string{"id", "actor_github_id", "actor_login", "action", "project_id", "path", "metadata", "created_at"}).
			AddRow("log-1", int64(42), "octocat", "file.edit", "proj-1", "docs/readme.md", []byte(`{"message":"fix typo"}`), time.Now()))

	w := doJSON(router, http.MethodGet, "/audit-logs?actor_github_id=42&action=file.edit", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		AuditLogs []map[string]interface{} `json:"audit_logs"`
		Total     int                      `json:"total"`
		Limit     int                      `json:"limit"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Total != 1 || resp.Limit != 50 || len(resp.AuditLogs) != 1 {
		t.Errorf("total = %d, limit = %d, logs = %d", resp.Total, resp.Limit, len(resp.AuditLogs))
	}
	if resp.AuditLogs[0]["action"] != "file.edit" {
		t.Errorf("action = %v", resp.AuditLogs[0]["action"])
	}
}

func TestListAuditLogs_RejectsBadTimestamp(t *testing.T) {
	router, _ := newAdminRouter(t)

	w := doJSON(router, http.MethodGet, "/audit-logs?start=yesterday", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}
