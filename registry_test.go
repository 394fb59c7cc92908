package easyqueue

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestRegistry(t *testing.T, fs afero.Fs) *Registry {
	t.Helper()
	r, err := Open(testOptions(fs, 16))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func registryGet(t *testing.T, r *Registry, topic, name string) (string, bool) {
	t.Helper()
	msg, ok, err := r.Get(topic, name)
	require.NoError(t, err)
	if !ok {
		return "", false
	}
	data, err := msg.Bytes()
	require.NoError(t, err)
	return string(data), true
}

func TestRegistryPublishAndGet(t *testing.T) {
	r := openTestRegistry(t, afero.NewMemMapFs())

	require.NoError(t, r.Subscribe("orders", "alice"))
	require.NoError(t, r.Publish("orders", strings.NewReader("hello")))
	require.NoError(t, r.Publish("invoices", strings.NewReader("ignored")))

	s, ok := registryGet(t, r, "orders", "alice")
	assert.True(t, ok)
	assert.Equal(t, "hello", s)
	_, ok = registryGet(t, r, "orders", "alice")
	assert.False(t, ok)

	assert.Equal(t, []string{"invoices", "orders"}, r.Topics())

	q, err := r.Topic("orders")
	require.NoError(t, err)
	assert.Equal(t, "orders", q.Name())
	assert.Equal(t, []string{"alice"}, q.Subscribers())
}

func TestRegistryUnknownTopic(t *testing.T) {
	r := openTestRegistry(t, afero.NewMemMapFs())

	_, _, err := r.Get("nope", "alice")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, r.Unsubscribe("nope", "alice"), ErrNotFound)
	_, err = r.Topic("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, r.Topics())
}

func TestRegistryInvalidNames(t *testing.T) {
	r := openTestRegistry(t, afero.NewMemMapFs())

	assert.ErrorIs(t, r.Publish("../etc", strings.NewReader("x")), ErrInvalidName)
	assert.ErrorIs(t, r.Subscribe("orders", ".alice"), ErrInvalidName)
	_, _, err := r.Get("a b", "alice")
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestRegistryReopen(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := openTestRegistry(t, fs)
	require.NoError(t, r.Subscribe("orders", "alice"))
	require.NoError(t, r.Publish("orders", strings.NewReader("one")))
	require.NoError(t, r.Publish("orders", strings.NewReader("two")))
	_, ok := registryGet(t, r, "orders", "alice")
	require.True(t, ok)
	require.NoError(t, r.Close())

	reopened := openTestRegistry(t, fs)
	assert.Equal(t, []string{"orders"}, reopened.Topics())
	s, ok := registryGet(t, reopened, "orders", "alice")
	assert.True(t, ok)
	assert.Equal(t, "two", s)
}

func TestRegistryLoadsTopicCreatedLater(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := openTestRegistry(t, fs)

	q, err := OpenQueue(filepath.Join("/queues", "late"), testOptions(fs, 16))
	require.NoError(t, err)
	require.NoError(t, q.Subscribe("alice"))
	require.NoError(t, q.Close())

	_, ok := registryGet(t, r, "late", "alice")
	assert.False(t, ok)
	assert.Equal(t, []string{"late"}, r.Topics())
}

func TestRegistrySkipsBrokenTopic(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/queues/broken/subscriptions/alice", []byte{1}, 0644))

	r := openTestRegistry(t, fs)
	assert.Empty(t, r.Topics())

	_, _, err := r.Get("broken", "alice")
	assert.ErrorIs(t, err, ErrCorruption)
}

func TestRegistryGC(t *testing.T) {
	r := openTestRegistry(t, afero.NewMemMapFs())
	for _, topic := range []string{"a", "b"} {
		// 8字节payload，每条记录占满一个chunk
		require.NoError(t, r.Publish(topic, strings.NewReader("12345678")))
		require.NoError(t, r.Publish(topic, strings.NewReader("12345678")))
	}

	deleted, err := r.GC()
	require.NoError(t, err)
	assert.Equal(t, 4, deleted)
}

func TestRegistryDirectoryLock(t *testing.T) {
	options := DefaultOptions
	options.DirPath = t.TempDir()
	options.GCInterval = -1

	r, err := Open(options)
	require.NoError(t, err)

	_, err = Open(options)
	assert.ErrorIs(t, err, ErrRegistryInUse)

	require.NoError(t, r.Close())
	r, err = Open(options)
	require.NoError(t, err)
	assert.NoError(t, r.Close())
}

func TestRegistryClosed(t *testing.T) {
	r := openTestRegistry(t, afero.NewMemMapFs())
	require.NoError(t, r.Subscribe("orders", "alice"))
	require.NoError(t, r.Close())

	assert.ErrorIs(t, r.Publish("orders", strings.NewReader("x")), ErrClosed)
	_, _, err := r.Get("orders", "alice")
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, r.Close())
}
