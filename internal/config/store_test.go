package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStoreWithPath(filepath.Join(t.TempDir(), "connections.json"))
}

func TestStoreLoadMissingFile(t *testing.T) {
	store := newTestStore(t)

	file, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, file.Connections)
}

func TestStoreCRUD(t *testing.T) {
	store := newTestStore(t)

	conn := NewConnection("test", "default", "my-service", 8080, 80)
	require.NoError(t, store.Add(conn))

	conns, err := store.Connections()
	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.Equal(t, "test", conns[0].Name)

	got, err := store.Connection(conn.ID)
	require.NoError(t, err)
	assert.Equal(t, conn.ID, got.ID)

	got.Name = "updated"
	require.NoError(t, store.Update(got))

	got, err = store.Connection(conn.ID)
	require.NoError(t, err)
	assert.Equal(t, "updated", got.Name)

	require.NoError(t, store.Remove(conn.ID))
	conns, err = store.Connections()
	require.NoError(t, err)
	assert.Empty(t, conns)
}

func TestStoreAddDuplicateFails(t *testing.T) {
	store := newTestStore(t)

	conn := NewConnection("test", "default", "my-service", 8080, 80)
	require.NoError(t, store.Add(conn))

	err := store.Add(conn)
	assert.ErrorIs(t, err, ErrConnectionExists)

	// The duplicate must not have been written.
	conns, err := store.Connections()
	require.NoError(t, err)
	assert.Len(t, conns, 1)
}

func TestStoreUpdateAbsentFails(t *testing.T) {
	store := newTestStore(t)

	err := store.Update(NewConnection("ghost", "default", "svc", 8080, 80))
	assert.ErrorIs(t, err, ErrConnectionNotFound)
}

func TestStoreRemoveAbsentFails(t *testing.T) {
	store := newTestStore(t)

	err := store.Remove(uuid.New())
	assert.ErrorIs(t, err, ErrConnectionNotFound)
}

func TestStoreSaveIsAtomic(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Add(NewConnection("a", "ns", "svc", 1234, 80)))

	// No temp file may be left behind after a successful save.
	_, err := os.Stat(store.Path() + ".tmp")
	assert.True(t, os.IsNotExist(err))

	// The final file must be complete, valid JSON.
	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	var file TunnelsFile
	require.NoError(t, json.Unmarshal(data, &file))
	assert.Len(t, file.Connections, 1)
}

func TestProxyPortOmittedWhenNil(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Add(NewConnection("a", "ns", "svc", 1234, 80)))

	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.NotContains(t, string(data), "proxyPort")
}

func TestEffectivePort(t *testing.T) {
	conn := NewConnection("test", "default", "svc", 8080, 80)
	assert.Equal(t, uint16(8080), conn.EffectivePort())
	assert.False(t, conn.HasProxy())

	proxyPort := uint16(9090)
	conn.ProxyPort = &proxyPort
	assert.Equal(t, uint16(9090), conn.EffectivePort())
	assert.True(t, conn.HasProxy())
}

func TestEffectivePortProperty(t *testing.T) {
	// EffectivePort must equal ProxyPort when set, LocalPort otherwise, for
	// arbitrary port pairs.
	for i := 0; i < 200; i++ {
		local := uint16(1024 + i*13%60000)
		remote := uint16(1 + i*7%60000)
		conn := NewConnection("p", "ns", "svc", local, remote)

		assert.Equal(t, local, conn.EffectivePort())

		proxy := uint16(1024 + i*31%60000)
		conn.ProxyPort = &proxy
		assert.Equal(t, proxy, conn.EffectivePort())
	}
}

func TestNewConnectionDefaults(t *testing.T) {
	conn := NewConnection("test", "default", "svc", 8080, 80)

	assert.NotEqual(t, uuid.Nil, conn.ID)
	assert.True(t, conn.IsEnabled)
	assert.True(t, conn.AutoReconnect)
	assert.True(t, conn.UseDirectExec)
	assert.True(t, conn.NotifyOnConnect)
	assert.True(t, conn.NotifyOnDisconnect)
	assert.Nil(t, conn.ProxyPort)
}
