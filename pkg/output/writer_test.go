package output

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xharvest/pkg/browser"
)

func TestWriteRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.json")

	sessions := []*browser.Session{
		{
			Username:  "alice",
			AuthToken: "TOKEN1",
			CT0:       "csrf1",
			Twid:      "u%3D1",
			GuestID:   "v1%3A1",
		},
		{
			Username:  "carol",
			AuthToken: "TOKEN3",
			CT0:       "csrf3",
		},
	}

	require.NoError(t, Write(path, sessions))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded []map[string]string
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 2)

	// Order preserved, all five fields present on every record
	assert.Equal(t, "alice", decoded[0]["username"])
	assert.Equal(t, "carol", decoded[1]["username"])
	for _, record := range decoded {
		for _, field := range []string{"username", "auth_token", "ct0", "twid", "guest_id"} {
			_, ok := record[field]
			assert.True(t, ok, "record missing field %s", field)
		}
	}
}

func TestWriteEmptyBatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.json")

	require.NoError(t, Write(path, nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(data))
}

func TestWriteOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.json")
	require.NoError(t, os.WriteFile(path, []byte("stale prior run"), 0600))

	require.NoError(t, Write(path, []*browser.Session{{Username: "alice", AuthToken: "T", CT0: "c"}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded []map[string]string
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 1)
}

func TestWriteDeterministic(t *testing.T) {
	dir := t.TempDir()
	sessions := []*browser.Session{
		{Username: "alice", AuthToken: "T1", CT0: "c1", Twid: "t1", GuestID: "g1"},
		{Username: "bob", AuthToken: "T2", CT0: "c2", Twid: "t2", GuestID: "g2"},
	}

	first := filepath.Join(dir, "first.json")
	second := filepath.Join(dir, "second.json")
	require.NoError(t, Write(first, sessions))
	require.NoError(t, Write(second, sessions))

	a, err := os.ReadFile(first)
	require.NoError(t, err)
	b, err := os.ReadFile(second)
	require.NoError(t, err)

	// Identical input yields byte-identical output
	assert.Equal(t, a, b)
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cookies.json")

	require.NoError(t, Write(path, nil))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "cookies.json", entries[0].Name())
}

func TestWriteFailure(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}

	dir := t.TempDir()
	require.NoError(t, os.Chmod(dir, 0500))
	defer os.Chmod(dir, 0700)

	err := Write(filepath.Join(dir, "cookies.json"), nil)
	require.Error(t, err)
}
