package docstore

import (
	"context"
	"errors"
	"regexp"
	"testing"

	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/mediclo/mediclo/internal/errs"
)

func newPGStore(t *testing.T) (*PGStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return NewPGStore(mock), mock
}

func q(sql string) string { return regexp.QuoteMeta(sql) }

func TestPGStore_Get_AssemblesLeaves(t *testing.T) {
	s, mock := newPGStore(t)
	defer mock.Close()

	mock.ExpectQuery(q(pgSelectSubtree)).
		WithArgs("patients/t1/P1", `patients/t1/P1/%`).
		WillReturnRows(pgxmock.NewRows([]string{"path", "value"}).
			AddRow("patients/t1/P1/name", []byte(`"Asha"`)).
			AddRow("patients/t1/P1/credentials/username", []byte(`"spot@p1"`)).
			AddRow("patients/t1/P1/visits", []byte(`3`)))

	got, err := s.Get(context.Background(), "patients/t1/P1")
	require.NoError(t, err)
	require.Equal(t, map[string]any{
		"name":        "Asha",
		"credentials": map[string]any{"username": "spot@p1"},
		"visits":      float64(3),
	}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStore_Get_NotFound(t *testing.T) {
	s, mock := newPGStore(t)
	defer mock.Close()

	mock.ExpectQuery(q(pgSelectSubtree)).
		WithArgs("tenants/none", `tenants/none/%`).
		WillReturnRows(pgxmock.NewRows([]string{"path", "value"}))

	_, err := s.Get(context.Background(), "tenants/none")
	require.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestPGStore_Get_EscapesLikePattern(t *testing.T) {
	s, mock := newPGStore(t)
	defer mock.Close()

	mock.ExpectQuery(q(pgSelectSubtree)).
		WithArgs("indexes/usernames/a_b%25", `indexes/usernames/a\_b\%25/%`).
		WillReturnRows(pgxmock.NewRows([]string{"path", "value"}).
			AddRow("indexes/usernames/a_b%25", []byte(`"t1"`)))

	got, err := s.Get(context.Background(), "indexes/usernames/a_b%25")
	require.NoError(t, err)
	require.Equal(t, "t1", got)
}

func TestPGStore_Get_QueryFailure(t *testing.T) {
	s, mock := newPGStore(t)
	defer mock.Close()

	mock.ExpectQuery(q(pgSelectSubtree)).
		WithArgs("tenants", `tenants/%`).
		WillReturnError(errors.New("connection refused"))

	_, err := s.Get(context.Background(), "tenants")
	require.True(t, errors.Is(err, errs.ErrStoreUnavailable))
}

func TestPGStore_Set_ReplacesInTransaction(t *testing.T) {
	s, mock := newPGStore(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(q(pgDeleteSubtree)).
		WithArgs("branding/t1", `branding/t1/%`).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec(q(pgDeleteAncestor)).
		WithArgs([]string{"branding"}).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(q(pgInsertLeaf)).
		WithArgs("branding/t1/color", `"red"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(q(pgInsertLeaf)).
		WithArgs("branding/t1/size", `12`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := s.Set(context.Background(), "branding/t1", map[string]any{"size": 12, "color": "red", "empty": map[string]any{}})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStore_Set_EmptyRemoves(t *testing.T) {
	s, mock := newPGStore(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(q(pgDeleteSubtree)).
		WithArgs("appointments/t1", `appointments/t1/%`).
		WillReturnResult(pgxmock.NewResult("DELETE", 4))
	mock.ExpectCommit()

	require.NoError(t, s.Set(context.Background(), "appointments/t1", map[string]any{}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStore_Set_RollsBackOnFailure(t *testing.T) {
	s, mock := newPGStore(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(q(pgDeleteSubtree)).
		WithArgs("tenants/t1", `tenants/t1/%`).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.Set(context.Background(), "tenants/t1", map[string]any{"name": "x"})
	require.True(t, errors.Is(err, errs.ErrStoreUnavailable))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStore_Update_WritesFieldsInOneTransaction(t *testing.T) {
	s, mock := newPGStore(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(q(pgDeleteSubtree)).
		WithArgs("users/t1/auth/lab/isActive", `users/t1/auth/lab/isActive/%`).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(q(pgDeleteSubtree)).
		WithArgs("users/t1/auth/lab/passwordHash", `users/t1/auth/lab/passwordHash/%`).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(q(pgDeleteAncestor)).
		WithArgs([]string{"users", "users/t1", "users/t1/auth", "users/t1/auth/lab"}).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(q(pgInsertLeaf)).
		WithArgs("users/t1/auth/lab/passwordHash", `"h"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := s.Update(context.Background(), "users/t1/auth/lab", map[string]any{
		"passwordHash": "h",
		"isActive":     nil,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStore_QueryEqual(t *testing.T) {
	s, mock := newPGStore(t)
	defer mock.Close()

	mock.ExpectQuery(q(pgSelectMatches)).
		WithArgs(`patients/t1/%/mobile`, `"9876543210"`).
		WillReturnRows(pgxmock.NewRows([]string{"path"}).
			AddRow("patients/t1/P1/mobile").
			AddRow("patients/t1/P9/history/mobile"))
	mock.ExpectQuery(q(pgSelectSubtree)).
		WithArgs("patients/t1/P1", `patients/t1/P1/%`).
		WillReturnRows(pgxmock.NewRows([]string{"path", "value"}).
			AddRow("patients/t1/P1/mobile", []byte(`"9876543210"`)))

	got, err := s.QueryEqual(context.Background(), "patients/t1", "mobile", "9876543210")
	require.NoError(t, err)
	require.Equal(t, map[string]any{"P1": map[string]any{"mobile": "9876543210"}}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStore_Increment(t *testing.T) {
	s, mock := newPGStore(t)
	defer mock.Close()

	mock.ExpectQuery(q(pgIncrement)).
		WithArgs("counters/t1/patients", int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"int8"}).AddRow(int64(7)))

	n, err := s.Increment(context.Background(), "counters/t1/patients", 1)
	require.NoError(t, err)
	require.Equal(t, int64(7), n)
}

func TestPGStore_Remove(t *testing.T) {
	s, mock := newPGStore(t)
	defer mock.Close()

	mock.ExpectExec(q(pgDeleteSubtree)).
		WithArgs("sessions/abc", `sessions/abc/%`).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	require.NoError(t, s.Remove(context.Background(), "sessions/abc"))
	require.NoError(t, mock.ExpectationsWereMet())
}
