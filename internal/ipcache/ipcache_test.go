package ipcache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_GetReturnsFalseWhenEmpty(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "ip"))
	_, ok := c.Get()
	assert.False(t, ok)
}

func TestCache_SetThenGet(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "ip"))
	require.NoError(t, c.Set("160.79.104.10"))

	ip, ok := c.Get()
	require.True(t, ok)
	assert.Equal(t, "160.79.104.10", ip)
}

func TestCache_PersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ip")
	first := New(path)
	require.NoError(t, first.Set("160.79.104.10"))

	second := New(path)
	ip, ok := second.Get()
	require.True(t, ok)
	assert.Equal(t, "160.79.104.10", ip)
}

func TestCache_PersistsWithRestrictiveMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ip")
	c := New(path)
	require.NoError(t, c.Set("1.2.3.4"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
