package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/docverctl/docverctl/internal/db/models"
)

var errDB = errors.New("db error")

var allowedUserCols = []string{"id", "github_user_id", "github_login", "is_admin", "added_by", "added_at"}

func sampleAllowedUserRow() *sqlmock.Rows {
	return sqlmock.NewRows(allowedUserCols).
		AddRow("au-1", int64(1001), "octocat", false, nil, time.Now())
}

func emptyAllowedUserRow() *sqlmock.Rows {
	return sqlmock.NewRows(allowedUserCols)
}

func newAllowedUserRepo(t *testing.T) (*AllowedUserRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewAllowedUserRepository(db), mock
}

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

func TestCreateAllowedUser_Success(t *testing.T) {
	repo, mock := newAllowedUserRepo(t)
	mock.ExpectExec("INSERT INTO allowed_users").
		WillReturnResult(sqlmock.NewResult(1, 1))

	user := &models.AllowedUser{GitHubUserID: 1001, GitHubLogin: "Octocat"}
	if err := repo.Create(context.Background(), user); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.ID == "" {
		t.Error("expected ID to be set")
	}
	if user.GitHubLogin != "octocat" {
		t.Errorf("GitHubLogin = %s, want octocat (lowercased)", user.GitHubLogin)
	}
}

func TestCreateAllowedUser_Duplicate(t *testing.T) {
	repo, mock := newAllowedUserRepo(t)
	mock.ExpectExec("INSERT INTO allowed_users").
		WillReturnError(&pq.Error{Code: "23505"})

	user := &models.AllowedUser{GitHubUserID: 1001, GitHubLogin: "octocat"}
	err := repo.Create(context.Background(), user)
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("err = %v, want ErrDuplicate", err)
	}
}

func TestCreateAllowedUser_DBError(t *testing.T) {
	repo, mock := newAllowedUserRepo(t)
	mock.ExpectExec("INSERT INTO allowed_users").
		WillReturnError(errDB)

	user := &models.AllowedUser{GitHubUserID: 1001, GitHubLogin: "octocat"}
	if err := repo.Create(context.Background(), user); err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// FindByIDOrLogin
// ---------------------------------------------------------------------------

func TestFindByIDOrLogin_Found(t *testing.T) {
	repo, mock := newAllowedUserRepo(t)
	mock.ExpectQuery("SELECT.*FROM allowed_users.*WHERE github_user_id").
		WithArgs(int64(1001), "octocat").
		WillReturnRows(sampleAllowedUserRow())

	user, err := repo.FindByIDOrLogin(context.Background(), 1001, "octocat")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user == nil {
		t.Fatal("expected user, got nil")
	}
	if user.GitHubUserID != 1001 {
		t.Errorf("GitHubUserID = %d, want 1001", user.GitHubUserID)
	}
}

func TestFindByIDOrLogin_LowercasesLogin(t *testing.T) {
	repo, mock := newAllowedUserRepo(t)
	// The query must receive the lowercased login regardless of input casing.
	mock.ExpectQuery("SELECT.*FROM allowed_users.*WHERE github_user_id").
		WithArgs(int64(0), "octocat").
		WillReturnRows(sampleAllowedUserRow())

	user, err := repo.FindByIDOrLogin(context.Background(), 0, "OctoCat")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user == nil {
		t.Fatal("expected user, got nil")
	}
}

func TestFindByIDOrLogin_NotFound(t *testing.T) {
	repo, mock := newAllowedUserRepo(t)
	mock.ExpectQuery("SELECT.*FROM allowed_users.*WHERE github_user_id").
		WithArgs(int64(42), "nobody").
		WillReturnRows(emptyAllowedUserRow())

	user, err := repo.FindByIDOrLogin(context.Background(), 42, "nobody")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user != nil {
		t.Errorf("expected nil user for not found, got %v", user)
	}
}

func TestFindByIDOrLogin_DBError(t *testing.T) {
	repo, mock := newAllowedUserRepo(t)
	mock.ExpectQuery("SELECT.*FROM allowed_users.*WHERE github_user_id").
		WillReturnError(errDB)

	_, err := repo.FindByIDOrLogin(context.Background(), 1001, "octocat")
	if err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// GetByGitHubUserID
// ---------------------------------------------------------------------------

func TestGetByGitHubUserID_Found(t *testing.T) {
	repo, mock := newAllowedUserRepo(t)
	mock.ExpectQuery("SELECT.*FROM allowed_users.*WHERE github_user_id").
		WithArgs(int64(1001)).
		WillReturnRows(sampleAllowedUserRow())

	user, err := repo.GetByGitHubUserID(context.Background(), 1001)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user == nil {
		t.Fatal("expected user, got nil")
	}
}

func TestGetByGitHubUserID_NotFound(t *testing.T) {
	repo, mock := newAllowedUserRepo(t)
	mock.ExpectQuery("SELECT.*FROM allowed_users.*WHERE github_user_id").
		WithArgs(int64(42)).
		WillReturnRows(emptyAllowedUserRow())

	user, err := repo.GetByGitHubUserID(context.Background(), 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user != nil {
		t.Error("expected nil, got non-nil")
	}
}

// ---------------------------------------------------------------------------
// List
// ---------------------------------------------------------------------------

func TestListAllowedUsers_Success(t *testing.T) {
	repo, mock := newAllowedUserRepo(t)
	mock.ExpectQuery("SELECT.*FROM allowed_users.*ORDER BY github_login").
		WillReturnRows(sampleAllowedUserRow())

	users, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(users) != 1 {
		t.Errorf("len(users) = %d, want 1", len(users))
	}
}

func TestListAllowedUsers_Empty(t *testing.T) {
	repo, mock := newAllowedUserRepo(t)
	mock.ExpectQuery("SELECT.*FROM allowed_users.*ORDER BY github_login").
		WillReturnRows(emptyAllowedUserRow())

	users, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(users) != 0 {
		t.Errorf("len(users) = %d, want 0", len(users))
	}
}

// ---------------------------------------------------------------------------
// SetAdmin / Delete
// ---------------------------------------------------------------------------

func TestSetAdmin_Success(t *testing.T) {
	repo, mock := newAllowedUserRepo(t)
	mock.ExpectExec("UPDATE allowed_users SET is_admin").
		WithArgs("au-1", true).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := repo.SetAdmin(context.Background(), "au-1", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDeleteAllowedUser_Success(t *testing.T) {
	repo, mock := newAllowedUserRepo(t)
	mock.ExpectExec("DELETE FROM allowed_users").
		WithArgs("au-1").
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := repo.Delete(context.Background(), "au-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Upsert
// ---------------------------------------------------------------------------

func TestUpsertAllowedUser_Success(t *testing.T) {
	repo, mock := newAllowedUserRepo(t)
	mock.ExpectExec("INSERT INTO allowed_users").
		WillReturnResult(sqlmock.NewResult(1, 1))

	user := &models.AllowedUser{GitHubUserID: 1001, GitHubLogin: "Octocat", IsAdmin: true}
	if err := repo.Upsert(context.Background(), user); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.GitHubLogin != "octocat" {
		t.Errorf("GitHubLogin = %s, want octocat", user.GitHubLogin)
	}
}
