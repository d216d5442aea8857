package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execStep(name, query string, args ...any) NamedStep {
	return NamedStep{
		Name: name,
		Run: func(ctx context.Context, tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, query, args...)
			return err
		},
	}
}

func TestRunInTx_CommitsAllSteps(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE a`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE b`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = RunInTx(context.Background(), db,
		execStep("a", "UPDATE a SET x = 1"),
		execStep("b", "UPDATE b SET y = 2"),
	)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTx_RollsBackOnStepFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	boom := errors.New("foreign key violation")

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE a`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE b`).WillReturnError(boom)
	mock.ExpectRollback()

	third := false
	err = RunInTx(context.Background(), db,
		execStep("a", "UPDATE a SET x = 1"),
		execStep("b", "UPDATE b SET y = 2"),
		NamedStep{Name: "c", Run: func(ctx context.Context, tx *sql.Tx) error {
			third = true
			return nil
		}},
	)

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, "b", stepErr.Step)
	assert.False(t, third)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTx_BeginFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin().WillReturnError(errors.New("pool exhausted"))

	err = RunInTx(context.Background(), db, execStep("a", "UPDATE a SET x = 1"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to begin transaction")
	require.NoError(t, mock.ExpectationsWereMet())
}
