package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	commonredis "fleetguard/common/redis"
	"fleetguard/internal/gateway"
	"fleetguard/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeDirectory struct {
	users      map[int64]*gateway.TrackingUser
	realmUsers map[int64][]models.RealmUser
	err        error
}

func (f *fakeDirectory) GetUser(ctx context.Context, userID int64) (*gateway.TrackingUser, error) {
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.users[userID]
	if !ok {
		return nil, errors.New("user not found")
	}
	return u, nil
}

func (f *fakeDirectory) ListRealmUsers(ctx context.Context, realmID int64) ([]models.RealmUser, error) {
	return f.realmUsers[realmID], nil
}

func realmID(v int64) *int64 { return &v }

func newDirectory() *fakeDirectory {
	return &fakeDirectory{
		users: map[int64]*gateway.TrackingUser{
			5: {UserID: 5, Name: "owner", RealmID: realmID(3)},
			6: {UserID: 6, Name: "solo"},
		},
		realmUsers: map[int64][]models.RealmUser{
			3: {
				{UserID: 5, Name: "owner", ACL: models.DeviceACL{All: true}},
				{UserID: 9, Name: "ops", ACL: models.DeviceACL{DeviceIDs: []int64{42}}},
				{UserID: 10, Name: "night", ACL: models.DeviceACL{All: true}},
				{UserID: 11, Name: "other", ACL: models.DeviceACL{DeviceIDs: []int64{7}}},
			},
		},
	}
}

func TestResolver_FiltersByACLAndExcludesOwner(t *testing.T) {
	r := NewResolver(newDirectory(), zap.NewNop())

	recipients, err := r.Resolve(context.Background(), 5, 42)
	require.NoError(t, err)
	assert.Equal(t, []Recipient{{UserID: 9, Name: "ops"}, {UserID: 10, Name: "night"}}, recipients)
}

func TestResolver_NoRealm(t *testing.T) {
	r := NewResolver(newDirectory(), zap.NewNop())

	recipients, err := r.Resolve(context.Background(), 6, 42)
	require.NoError(t, err)
	assert.Empty(t, recipients)
}

func TestResolver_DirectoryFailure(t *testing.T) {
	dir := newDirectory()
	dir.err = errors.New("tracking backend unavailable")
	r := NewResolver(dir, zap.NewNop())

	_, err := r.Resolve(context.Background(), 5, 42)
	assert.Error(t, err)
}

func setupNotifier(t *testing.T, dir UserDirectory) (*miniredis.Miniredis, *redis.Client, *Notifier) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	publisher := commonredis.NewStreamPublisher(client, 100)
	n := NewNotifier(NewResolver(dir, zap.NewNop()), publisher, "fleet:notifications:stream", zap.NewNop())
	return mr, client, n
}

func TestNotifier_PublishesToStream(t *testing.T) {
	_, client, n := setupNotifier(t, newDirectory())
	ctx := context.Background()

	recipients, err := n.Notify(ctx, Notification{
		Kind:        "alarm",
		DeviceID:    42,
		Code:        "A1",
		OwnerUserID: 5,
	})
	require.NoError(t, err)
	assert.Len(t, recipients, 2)

	msgs, err := client.XRange(ctx, "fleet:notifications:stream", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	var published Notification
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["data"].(string)), &published))
	assert.Equal(t, "A1", published.Code)
	assert.Len(t, published.Recipients, 2)
}

func TestNotifier_NoRecipientsNoPublish(t *testing.T) {
	_, client, n := setupNotifier(t, newDirectory())
	ctx := context.Background()

	recipients, err := n.Notify(ctx, Notification{Kind: "event", DeviceID: 42, OwnerUserID: 6})
	require.NoError(t, err)
	assert.Empty(t, recipients)

	count, err := client.XLen(ctx, "fleet:notifications:stream").Result()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestNotifier_ResolutionFailureNoPublish(t *testing.T) {
	dir := newDirectory()
	dir.err = errors.New("down")
	_, client, n := setupNotifier(t, dir)
	ctx := context.Background()

	_, err := n.Notify(ctx, Notification{Kind: "alarm", DeviceID: 42, OwnerUserID: 5})
	assert.Error(t, err)

	count, err := client.XLen(ctx, "fleet:notifications:stream").Result()
	require.NoError(t, err)
	assert.Zero(t, count)
}
