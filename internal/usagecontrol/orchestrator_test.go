package usagecontrol

import (
	"context"
	"errors"
	"testing"
	"time"

	"fleetguard/internal/gateway"
	"fleetguard/internal/geofence"
	"fleetguard/internal/models"
	"fleetguard/internal/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testNow = time.Date(2026, 6, 1, 9, 30, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

type fixture struct {
	orch      *Orchestrator
	devices   *fakeDevices
	store     *fakeStore
	gateway   *fakeGateway
	cache     *fakeCache
	positions *fakePositions
	locker    *RedisDeviceLocker
	mr        *miniredis.Miniredis
}

func setupOrchestrator(t *testing.T) *fixture {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	fx := &fixture{
		devices: &fakeDevices{
			devices: map[int64]*models.Device{
				42: {
					DeviceID: 42, GatewayID: 1042, DeviceTypeID: 7, DeviceName: "Truck 42",
					DoutStatus: ptr(models.DoutLocked), Connected: true, Ignition: false,
					DriverID: ptr(int64(11)), ShiftID: ptr(int64(3)),
					AuthLat: ptr(52.5200), AuthLon: ptr(13.4050),
				},
			},
			pairs: map[int]*models.CommandPair{
				7: {DeviceTypeID: 7, TypeName: "FMB920", LockCommand: "setdigout 1", UnlockCommand: "setdigout 0"},
			},
		},
		store:     newFakeStore(),
		gateway:   &fakeGateway{statuses: map[int64]gateway.ExecutionStatus{}},
		cache:     &fakeCache{},
		positions: &fakePositions{points: map[int64]*geofence.Point{}},
		locker:    NewRedisDeviceLocker(client, 20*time.Second, zap.NewNop()),
		mr:        mr,
	}
	fx.store.records[42] = &models.UsageControlRecord{
		UsageControlID: 1,
		DeviceID:       42,
		ShiftID:        ptr(int64(3)),
		DriverID:       ptr(int64(11)),
		State:          models.StateAssigned,
	}

	fx.orch = NewOrchestrator(fx.devices, fx.store, fx.gateway, fx.cache, fx.locker, fx.positions,
		geofence.NewValidator(100),
		Options{
			Cooldown:        30 * time.Second,
			PendingTimeout:  2 * time.Minute,
			CommandTTL:      5 * time.Minute,
			MinReasonLength: 3,
		}, zap.NewNop())
	fx.orch.now = func() time.Time { return testNow }
	return fx
}

func validRequest() ToggleRequest {
	return ToggleRequest{
		DeviceID:           42,
		PerformerID:        5,
		Reason:             "ok!",
		Confirmed:          true,
		AcknowledgeWarning: true,
	}
}

func TestToggle_UnlockDispatchesAndCommits(t *testing.T) {
	fx := setupOrchestrator(t)

	res, err := fx.orch.Toggle(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, models.ActionUnlock, res.Action)
	assert.Equal(t, models.DoutUnlocked, res.DoutStatus)
	assert.Equal(t, models.StateCommandPending, res.State)
	assert.Equal(t, int64(701), res.CommandID)
	assert.Equal(t, testNow.Add(30*time.Second), res.CooldownUntil)
	assert.NotEmpty(t, res.LogID)

	require.Len(t, fx.gateway.sent, 1)
	assert.Equal(t, "custom", fx.gateway.sent[0].Name)
	assert.Equal(t, "setdigout 0", fx.gateway.sent[0].Properties.Text)
	assert.Equal(t, 300, fx.gateway.sent[0].TTL)
	assert.Equal(t, int64(1042), fx.gateway.sentTo[0])

	require.Len(t, fx.store.commits, 1)
	c := fx.store.commits[0]
	assert.Equal(t, models.DoutUnlocked, c.NewDout)
	assert.Equal(t, models.DoutLocked, c.PreviousDout)
	assert.Equal(t, models.CompliedYes, c.Log.Complied)
	assert.Equal(t, "ok!", c.Log.Reason)
	assert.Equal(t, int64(11), *c.Log.DriverID)
	assert.Equal(t, int64(3), *c.Log.ShiftID)
	assert.Equal(t, int64(5), c.Log.PerformerID)
	assert.Equal(t, c.Log.LogID, c.Report.LogID)

	assert.Equal(t, []int64{1042}, fx.cache.invalidated)
	assert.False(t, fx.mr.Exists(lockKey(42)), "lock must be released")
}

func TestToggle_LockWhenUnlocked(t *testing.T) {
	fx := setupOrchestrator(t)
	fx.devices.devices[42].DoutStatus = ptr(models.DoutUnlocked)

	res, err := fx.orch.Toggle(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, models.ActionLock, res.Action)
	assert.Equal(t, models.DoutLocked, res.DoutStatus)
	assert.Equal(t, "setdigout 1", fx.gateway.sent[0].Properties.Text)
}

func TestToggle_ShortReasonNeverDispatches(t *testing.T) {
	for _, reason := range []string{"", "no", "  ab  ", "ok"} {
		t.Run(reason, func(t *testing.T) {
			fx := setupOrchestrator(t)
			req := validRequest()
			req.Reason = reason

			_, err := fx.orch.Toggle(context.Background(), req)
			assert.ErrorIs(t, err, ErrReasonTooShort)
			assert.Empty(t, fx.gateway.sent)
			assert.Empty(t, fx.store.commits)
			assert.Empty(t, fx.store.failed)
		})
	}
}

func TestToggle_MultibyteReasonCountsRunes(t *testing.T) {
	fx := setupOrchestrator(t)
	req := validRequest()
	req.Reason = "移车位"

	_, err := fx.orch.Toggle(context.Background(), req)
	require.NoError(t, err)
}

func TestToggle_RequiresConfirmation(t *testing.T) {
	fx := setupOrchestrator(t)
	req := validRequest()
	req.Confirmed = false

	_, err := fx.orch.Toggle(context.Background(), req)
	assert.ErrorIs(t, err, ErrNotConfirmed)
	assert.Empty(t, fx.gateway.sent)
}

func TestToggle_DisconnectedIsBlocked(t *testing.T) {
	fx := setupOrchestrator(t)
	fx.devices.devices[42].Connected = false

	_, err := fx.orch.Toggle(context.Background(), validRequest())
	assert.ErrorIs(t, err, ErrDeviceDisconnected)
	assert.Empty(t, fx.gateway.sent)
}

func TestToggle_IgnitionWarnings(t *testing.T) {
	tests := []struct {
		ignition bool
		level    WarningLevel
	}{
		{true, WarningIgnitionOn},
		{false, WarningIgnitionOff},
	}
	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			fx := setupOrchestrator(t)
			fx.devices.devices[42].Ignition = tt.ignition
			req := validRequest()
			req.AcknowledgeWarning = false

			_, err := fx.orch.Toggle(context.Background(), req)
			var warning *WarningError
			require.ErrorAs(t, err, &warning)
			assert.Equal(t, tt.level, warning.Level)
			assert.Empty(t, fx.gateway.sent)

			req.AcknowledgeWarning = true
			_, err = fx.orch.Toggle(context.Background(), req)
			require.NoError(t, err)
		})
	}
}

func TestToggle_DispatchFailureMarksFailed(t *testing.T) {
	fx := setupOrchestrator(t)
	fx.gateway.sendErr = errors.New("gateway unavailable")

	_, err := fx.orch.Toggle(context.Background(), validRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway unavailable")
	assert.Equal(t, []int64{42}, fx.store.failed)
	assert.Empty(t, fx.store.commits)
}

func TestToggle_CommitFailureSurfaces(t *testing.T) {
	fx := setupOrchestrator(t)
	fx.store.commitErr = errors.New("step insert_command_audit_log failed: deadlock")

	_, err := fx.orch.Toggle(context.Background(), validRequest())
	require.Error(t, err)
	assert.Len(t, fx.gateway.sent, 1)
	assert.Empty(t, fx.cache.invalidated)
}

func TestToggle_ConcurrentToggleRejected(t *testing.T) {
	fx := setupOrchestrator(t)

	release, err := fx.locker.Acquire(context.Background(), 42)
	require.NoError(t, err)

	_, err = fx.orch.Toggle(context.Background(), validRequest())
	assert.ErrorIs(t, err, ErrToggleInProgress)
	assert.Empty(t, fx.gateway.sent)

	release()
	_, err = fx.orch.Toggle(context.Background(), validRequest())
	require.NoError(t, err)
}

func TestToggle_PendingCommandBlocksUntilTimeout(t *testing.T) {
	fx := setupOrchestrator(t)
	rec := fx.store.records[42]
	rec.State = models.StateCommandPending
	rec.PendingCommandID = ptr(int64(700))
	rec.CommandDispatched = ptr(testNow.Add(-30 * time.Second))

	_, err := fx.orch.Toggle(context.Background(), validRequest())
	assert.ErrorIs(t, err, ErrCommandPending)

	rec.CommandDispatched = ptr(testNow.Add(-3 * time.Minute))
	_, err = fx.orch.Toggle(context.Background(), validRequest())
	require.NoError(t, err)
}

func TestToggle_TerminalStatesAllowNewToggle(t *testing.T) {
	for _, state := range []models.CommandState{models.StateCommandConfirmed, models.StateCommandFailed} {
		fx := setupOrchestrator(t)
		fx.store.records[42].State = state

		_, err := fx.orch.Toggle(context.Background(), validRequest())
		require.NoError(t, err, state)
	}
}

func TestToggle_Preconditions(t *testing.T) {
	t.Run("no driver", func(t *testing.T) {
		fx := setupOrchestrator(t)
		fx.store.records[42].DriverID = nil
		_, err := fx.orch.Toggle(context.Background(), validRequest())
		assert.ErrorIs(t, err, ErrNotAssigned)
	})
	t.Run("unknown dout", func(t *testing.T) {
		fx := setupOrchestrator(t)
		fx.devices.devices[42].DoutStatus = nil
		_, err := fx.orch.Toggle(context.Background(), validRequest())
		assert.ErrorIs(t, err, ErrPrecondition)
	})
	t.Run("no command pair", func(t *testing.T) {
		fx := setupOrchestrator(t)
		fx.devices.devices[42].DeviceTypeID = 99
		_, err := fx.orch.Toggle(context.Background(), validRequest())
		assert.ErrorIs(t, err, ErrPrecondition)
	})
	t.Run("empty unlock command", func(t *testing.T) {
		fx := setupOrchestrator(t)
		fx.devices.pairs[7] = &models.CommandPair{DeviceTypeID: 7, LockCommand: "setdigout 1"}
		_, err := fx.orch.Toggle(context.Background(), validRequest())
		assert.ErrorIs(t, err, ErrPrecondition)
	})
	t.Run("action mismatch", func(t *testing.T) {
		fx := setupOrchestrator(t)
		req := validRequest()
		req.Action = models.ActionLock
		_, err := fx.orch.Toggle(context.Background(), req)
		assert.ErrorIs(t, err, ErrPrecondition)
		assert.Empty(t, fx.gateway.sent)
	})
}

func TestToggle_LocationCompliance(t *testing.T) {
	t.Run("reported inside radius", func(t *testing.T) {
		fx := setupOrchestrator(t)
		req := validRequest()
		req.Location = &geofence.Point{Latitude: 52.5205, Longitude: 13.4050}
		res, err := fx.orch.Toggle(context.Background(), req)
		require.NoError(t, err)
		assert.True(t, res.LocationCompliant)
		assert.True(t, fx.store.commits[0].Log.LocationCompliant)
	})
	t.Run("live position outside radius", func(t *testing.T) {
		fx := setupOrchestrator(t)
		fx.positions.points[1042] = &geofence.Point{Latitude: 52.5300, Longitude: 13.4050}
		res, err := fx.orch.Toggle(context.Background(), validRequest())
		require.NoError(t, err)
		assert.False(t, res.LocationCompliant)
	})
	t.Run("live position inside radius", func(t *testing.T) {
		fx := setupOrchestrator(t)
		fx.positions.points[1042] = &geofence.Point{Latitude: 52.5201, Longitude: 13.4051}
		res, err := fx.orch.Toggle(context.Background(), validRequest())
		require.NoError(t, err)
		assert.True(t, res.LocationCompliant)
	})
	t.Run("no authorized location", func(t *testing.T) {
		fx := setupOrchestrator(t)
		fx.devices.devices[42].AuthLat = nil
		req := validRequest()
		req.Location = &geofence.Point{Latitude: 52.5200, Longitude: 13.4050}
		res, err := fx.orch.Toggle(context.Background(), req)
		require.NoError(t, err)
		assert.False(t, res.LocationCompliant)
	})
}

func TestUpdateDeviceInUsageControl(t *testing.T) {
	fx := setupOrchestrator(t)

	err := fx.orch.UpdateDeviceInUsageControl(context.Background(), 42, models.BindingUpdate{
		ShiftID:  ptr(int64(4)),
		DriverID: ptr(int64(12)),
	})
	require.NoError(t, err)
	require.Len(t, fx.store.bindings, 1)
	require.NotNil(t, fx.store.bindings[0].PrevDriverID)
	assert.Equal(t, int64(11), *fx.store.bindings[0].PrevDriverID)
	assert.Equal(t, []int64{1042}, fx.cache.invalidated)
}

func TestUpdateDeviceInUsageControl_FailureSurfacesWithoutInvalidation(t *testing.T) {
	fx := setupOrchestrator(t)
	fx.store.bindingErr = errors.New("step assign_driver failed: driver already assigned")

	err := fx.orch.UpdateDeviceInUsageControl(context.Background(), 42, models.BindingUpdate{DriverID: ptr(int64(12))})
	require.Error(t, err)
	assert.Empty(t, fx.cache.invalidated)
	assert.False(t, fx.mr.Exists(lockKey(42)))
}

func TestUpdateDeviceInUsageControl_RejectsForeignPreviousDriver(t *testing.T) {
	fx := setupOrchestrator(t)

	// 设备 42 当前绑定司机 11，司机 20 属于其他设备
	err := fx.orch.UpdateDeviceInUsageControl(context.Background(), 42, models.BindingUpdate{
		DriverID:     ptr(int64(20)),
		PrevDriverID: ptr(int64(20)),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPrecondition))
	assert.Empty(t, fx.store.bindings)
	assert.Empty(t, fx.cache.invalidated)
	assert.False(t, fx.mr.Exists(lockKey(42)))
}

func TestUpdateDeviceInUsageControl_MatchingPreviousDriver(t *testing.T) {
	fx := setupOrchestrator(t)

	err := fx.orch.UpdateDeviceInUsageControl(context.Background(), 42, models.BindingUpdate{
		DriverID:     ptr(int64(12)),
		PrevDriverID: ptr(int64(11)),
	})
	require.NoError(t, err)
	require.Len(t, fx.store.bindings, 1)
	assert.Equal(t, int64(11), *fx.store.bindings[0].PrevDriverID)
}

func TestSetAndClearReason(t *testing.T) {
	fx := setupOrchestrator(t)
	ctx := context.Background()

	assert.ErrorIs(t, fx.orch.SetReason(ctx, 42, " x "), ErrReasonTooShort)

	require.NoError(t, fx.orch.SetReason(ctx, 42, "  night move "))
	require.NotNil(t, fx.store.reasons[42])
	assert.Equal(t, "night move", *fx.store.reasons[42])

	require.NoError(t, fx.orch.ClearReason(ctx, 42))
	assert.Nil(t, fx.store.reasons[42])
}

func TestList(t *testing.T) {
	fx := setupOrchestrator(t)
	fx.store.records[42].OwnerUserID = ptr(int64(5))

	page, err := fx.orch.List(context.Background(), 0, 0, ptr(int64(5)))
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 20, page.Size)

	page, err = fx.orch.List(context.Background(), 1, 10, ptr(int64(6)))
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestRecordLogAndReport(t *testing.T) {
	fx := setupOrchestrator(t)
	ctx := context.Background()

	err := fx.orch.RecordLogAndReport(ctx, &models.CommandAuditLog{DeviceID: 42, Action: "honk", Reason: "test"}, nil)
	assert.Error(t, err)

	err = fx.orch.RecordLogAndReport(ctx, &models.CommandAuditLog{DeviceID: 42, Action: models.ActionLock, Reason: "no"}, nil)
	assert.ErrorIs(t, err, ErrReasonTooShort)

	err = fx.orch.RecordLogAndReport(ctx, &models.CommandAuditLog{DeviceID: 42, Action: models.ActionLock, Reason: " yard "}, nil)
	require.NoError(t, err)
	require.Len(t, fx.store.auditLogs, 1)
	assert.Equal(t, "yard", fx.store.auditLogs[0].Reason)

	logs, err := fx.orch.AuditLogs(ctx, repository.AuditFilter{})
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}
