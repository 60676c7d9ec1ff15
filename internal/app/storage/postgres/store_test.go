package postgres

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/chainpulse/console/internal/app/domain/apikey"
	"github.com/chainpulse/console/internal/app/domain/usage"
	"github.com/chainpulse/console/internal/app/domain/user"
	"github.com/chainpulse/console/internal/apperr"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "postgres")), mock
}

func TestGetUser_NotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT .+ FROM users WHERE id =`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.GetUser(context.Background(), "missing")
	if !apperr.IsNotFound(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateUser(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO users`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	created, err := store.CreateUser(context.Background(), user.User{Email: "a@b.co", Name: "A"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected generated user id")
	}
	if created.CreatedAt.IsZero() || created.UpdatedAt.IsZero() {
		t.Fatal("expected timestamps to be set")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListAPIKeys_ExcludesDeletedByDefault(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "name", "prefix", "secret_hash", "enabled",
		"last_used_at", "created_at", "updated_at", "deleted_at",
	}).AddRow("k1", "u1", "prod", "cp_live_ab", "hash", true, nil, now, now, nil)

	mock.ExpectQuery(`SELECT .+ FROM api_keys WHERE user_id = \$1 AND deleted_at IS NULL`).
		WithArgs("u1").
		WillReturnRows(rows)

	keys, err := store.ListAPIKeys(context.Background(), "u1", false)
	if err != nil {
		t.Fatalf("list keys: %v", err)
	}
	if len(keys) != 1 || keys[0].ID != "k1" {
		t.Fatalf("unexpected keys: %+v", keys)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateAPIKey_NotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE api_keys SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := store.UpdateAPIKey(context.Background(), apikey.Key{ID: "missing"})
	if !apperr.IsNotFound(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestUpsertDailyRollup(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO usage_daily`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.UpsertDailyRollup(context.Background(), usage.DailyRollup{
		UserID: "u1", Day: "2026-08-30", Requests: 120, Errors: 3,
	})
	if err != nil {
		t.Fatalf("upsert rollup: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
