package repository

import (
	"context"
	"database/sql"
	"testing"

	"fleetguard/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMatchAlarm_Found(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewSubscriptionRepository(db, zap.NewNop())

	mock.ExpectQuery(`FROM notification_subscriptions`).
		WithArgs(7, "alarm", "A1").
		WillReturnRows(sqlmock.NewRows([]string{"subscription_id", "device_type_id", "kind", "code", "audio_asset", "enabled"}).
			AddRow(int64(1), 7, "alarm", "A1", "siren.mp3", true))

	sub, err := repo.MatchAlarm(context.Background(), 7, "A1")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, models.SubscriptionAlarm, sub.Kind)
	assert.Equal(t, "siren.mp3", sub.AudioAsset)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMatchEvent_NoMatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewSubscriptionRepository(db, zap.NewNop())

	mock.ExpectQuery(`FROM notification_subscriptions`).
		WithArgs(7, "event", "E9").
		WillReturnError(sql.ErrNoRows)

	sub, err := repo.MatchEvent(context.Background(), 7, "E9")
	require.NoError(t, err)
	assert.Nil(t, sub)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMatch_EmptyCodeSkipsQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewSubscriptionRepository(db, zap.NewNop())

	sub, err := repo.MatchAlarm(context.Background(), 7, "")
	require.NoError(t, err)
	assert.Nil(t, sub)

	require.NoError(t, mock.ExpectationsWereMet())
}
