package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceACL_Unmarshal(t *testing.T) {
	var all DeviceACL
	require.NoError(t, json.Unmarshal([]byte(`"all"`), &all))
	assert.True(t, all.Allows(42))

	var ids DeviceACL
	require.NoError(t, json.Unmarshal([]byte(`[1, 42]`), &ids))
	assert.True(t, ids.Allows(42))
	assert.False(t, ids.Allows(7))

	var wrapped DeviceACL
	require.NoError(t, json.Unmarshal([]byte(`{"devices":"ALL"}`), &wrapped))
	assert.True(t, wrapped.All)

	var empty DeviceACL
	require.NoError(t, json.Unmarshal([]byte(`null`), &empty))
	assert.False(t, empty.Allows(42))

	var bad DeviceACL
	assert.Error(t, json.Unmarshal([]byte(`"some"`), &bad))
}

func TestRealmUser_DecodesNestedACL(t *testing.T) {
	var u RealmUser
	require.NoError(t, json.Unmarshal([]byte(`{"id":9,"name":"ops","realm_id":3,"acl":{"devices":[42]}}`), &u))
	assert.Equal(t, int64(9), u.UserID)
	assert.True(t, u.ACL.Allows(42))
}
