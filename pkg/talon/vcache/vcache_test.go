package vcache

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talonsec/talon/pkg/talon/types"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "verdicts"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, c.Close())
	})
	return c
}

func writeFile(t *testing.T, data string) (string, os.FileInfo) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "f.bin")
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	info, err := os.Stat(path)
	require.NoError(t, err)
	return path, info
}

func TestGetMissing(t *testing.T) {
	c := openTestCache(t)
	_, err := c.Get("/no/such/path")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRecordAndLookup(t *testing.T) {
	c := openTestCache(t)
	path, info := writeFile(t, "hello")

	verdict := types.Verdict{State: types.Clean}
	require.NoError(t, c.Record(path, info, verdict))

	got, ok := c.Lookup(path, info)
	require.True(t, ok)
	assert.Equal(t, types.Clean, got.State)
}

func TestLookupMissOnChangedFile(t *testing.T) {
	c := openTestCache(t)
	path, info := writeFile(t, "hello")
	require.NoError(t, c.Record(path, info, types.Verdict{State: types.Clean}))

	// Change content (and mtime) and re-stat.
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("changed!"), 0o644))
	newInfo, err := os.Stat(path)
	require.NoError(t, err)

	_, ok := c.Lookup(path, newInfo)
	assert.False(t, ok, "changed file must not hit the cache")
}

func TestLookupNeverServesFailures(t *testing.T) {
	c := openTestCache(t)
	path, info := writeFile(t, "hello")
	require.NoError(t, c.Record(path, info, types.Verdict{State: types.Failed, Detail: "timeout"}))

	_, ok := c.Lookup(path, info)
	assert.False(t, ok, "failed verdicts must be retried, not cached")
}

func TestInfectedVerdictRoundTrip(t *testing.T) {
	c := openTestCache(t)
	path, info := writeFile(t, "eicar")
	require.NoError(t, c.Record(path, info, types.Verdict{
		State:  types.Infected,
		Threat: "Eicar-Test-Signature",
	}))

	got, ok := c.Lookup(path, info)
	require.True(t, ok)
	assert.Equal(t, types.Infected, got.State)
	assert.Equal(t, "Eicar-Test-Signature", got.Threat)
}

func TestNilCacheIsInert(t *testing.T) {
	var c *Cache
	path, info := writeFile(t, "x")

	_, ok := c.Lookup(path, info)
	assert.False(t, ok)
	assert.NoError(t, c.Record(path, info, types.Verdict{State: types.Clean}))
	assert.NoError(t, c.Close())
}
