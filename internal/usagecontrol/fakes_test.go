package usagecontrol

import (
	"context"
	"fmt"
	"sync"

	"fleetguard/internal/gateway"
	"fleetguard/internal/geofence"
	"fleetguard/internal/models"
	"fleetguard/internal/repository"
)

type fakeDevices struct {
	devices map[int64]*models.Device
	pairs   map[int]*models.CommandPair
}

func (f *fakeDevices) GetDevice(ctx context.Context, id int64) (*models.Device, error) {
	d, ok := f.devices[id]
	if !ok {
		return nil, fmt.Errorf("device %d: %w", id, repository.ErrNotFound)
	}
	copied := *d
	return &copied, nil
}

func (f *fakeDevices) GetCommandPair(ctx context.Context, typeID int) (*models.CommandPair, error) {
	p, ok := f.pairs[typeID]
	if !ok {
		return nil, fmt.Errorf("device type %d: %w", typeID, repository.ErrNotFound)
	}
	return p, nil
}

type resolveCall struct {
	deviceID, commandID int64
	state               models.CommandState
	revert              bool
}

type fakeStore struct {
	mu         sync.Mutex
	records    map[int64]*models.UsageControlRecord
	commits    []repository.DispatchCommit
	failed     []int64
	bindings   []models.BindingUpdate
	reasons    map[int64]*string
	resolves   []resolveCall
	auditLogs  []*models.CommandAuditLog
	commitErr  error
	bindingErr error
	resolveOK  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records:   map[int64]*models.UsageControlRecord{},
		reasons:   map[int64]*string{},
		resolveOK: true,
	}
}

func (f *fakeStore) GetUsageControl(ctx context.Context, id int64) (*models.UsageControlRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return nil, fmt.Errorf("usage control for device %d: %w", id, repository.ErrNotFound)
	}
	copied := *r
	return &copied, nil
}

func (f *fakeStore) ListUsageControl(ctx context.Context, filter repository.UsageControlFilter) ([]models.UsageControlRecord, int, error) {
	var items []models.UsageControlRecord
	for _, r := range f.records {
		if filter.OwnerUserID != nil && (r.OwnerUserID == nil || *r.OwnerUserID != *filter.OwnerUserID) {
			continue
		}
		items = append(items, *r)
	}
	return items, len(items), nil
}

func (f *fakeStore) SetReason(ctx context.Context, id int64, reason *string) error {
	if _, ok := f.records[id]; !ok {
		return fmt.Errorf("usage control for device %d: %w", id, repository.ErrNotFound)
	}
	f.reasons[id] = reason
	return nil
}

func (f *fakeStore) UpdateBinding(ctx context.Context, id int64, update models.BindingUpdate) error {
	if f.bindingErr != nil {
		return f.bindingErr
	}
	f.bindings = append(f.bindings, update)
	return nil
}

func (f *fakeStore) CommitDispatch(ctx context.Context, c repository.DispatchCommit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return f.commitErr
	}
	repository.PrepareAuditPair(c.Log, c.Report, c.DispatchedAt)
	f.commits = append(f.commits, c)
	if r, ok := f.records[c.DeviceID]; ok {
		r.State = models.StateCommandPending
		r.PendingCommandID = &c.CommandID
		dispatched := c.DispatchedAt
		r.CommandDispatched = &dispatched
	}
	return nil
}

func (f *fakeStore) MarkDispatchFailed(ctx context.Context, id int64) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeStore) ResolveCommand(ctx context.Context, deviceID, commandID int64, state models.CommandState, revert bool) (bool, error) {
	f.resolves = append(f.resolves, resolveCall{deviceID, commandID, state, revert})
	return f.resolveOK, nil
}

func (f *fakeStore) ListPending(ctx context.Context) ([]models.UsageControlRecord, error) {
	var items []models.UsageControlRecord
	for _, r := range f.records {
		if r.State == models.StateCommandPending {
			items = append(items, *r)
		}
	}
	return items, nil
}

func (f *fakeStore) InsertLogAndReport(ctx context.Context, log *models.CommandAuditLog, report *models.CommandAuditReport) error {
	f.auditLogs = append(f.auditLogs, log)
	return nil
}

func (f *fakeStore) ListAuditLogs(ctx context.Context, filter repository.AuditFilter) ([]models.CommandAuditLog, error) {
	var logs []models.CommandAuditLog
	for _, l := range f.auditLogs {
		logs = append(logs, *l)
	}
	return logs, nil
}

type fakeGateway struct {
	mu       sync.Mutex
	sent     []gateway.Command
	sentTo   []int64
	sendErr  error
	nextID   int64
	statuses map[int64]gateway.ExecutionStatus
}

func (f *fakeGateway) SendCommand(ctx context.Context, deviceID int64, cmd gateway.Command) (*gateway.CommandAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, cmd)
	f.sentTo = append(f.sentTo, deviceID)
	f.nextID++
	return &gateway.CommandAck{CommandID: 700 + f.nextID, DeviceID: deviceID}, nil
}

func (f *fakeGateway) GetExecutionStatus(ctx context.Context, deviceID, commandID int64) (*gateway.CommandResult, error) {
	status, ok := f.statuses[commandID]
	if !ok {
		return nil, fmt.Errorf("command %d unknown", commandID)
	}
	return &gateway.CommandResult{CommandID: commandID, DeviceID: deviceID, Status: status}, nil
}

type fakeCache struct {
	invalidated []int64
}

func (f *fakeCache) Invalidate(ctx context.Context, gatewayID int64) {
	f.invalidated = append(f.invalidated, gatewayID)
}

type fakePositions struct {
	points map[int64]*geofence.Point
}

func (f *fakePositions) LastPosition(ctx context.Context, gatewayID int64) (*geofence.Point, error) {
	return f.points[gatewayID], nil
}
