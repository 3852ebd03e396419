package envcfg

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testEnv returns an Env over a private map that records
// every warning.
func testEnv() (*Env, map[string]string, *[]string) {
	vars := map[string]string{}
	var warnings []string
	env := &Env{
		Lookup: func(key string) (string, bool) {
			v, ok := vars[key]
			return v, ok
		},
		Setenv: func(key, value string) error {
			vars[key] = value
			return nil
		},
		Warnf: func(format string, args ...interface{}) {
			warnings = append(warnings, fmt.Sprintf(format, args...))
		},
	}
	return env, vars, &warnings
}

func TestSetWarnsOnOverwrite(t *testing.T) {
	env, vars, warnings := testEnv()

	require.NoError(t, env.Set(TraceBufferSize, "100"))
	assert.Empty(t, *warnings)

	require.NoError(t, env.Set(TraceBufferSize, "200"))
	require.Len(t, *warnings, 1)
	assert.Contains(t, (*warnings)[0], TraceBufferSize)
	assert.Contains(t, (*warnings)[0], "= 100")
	assert.Contains(t, (*warnings)[0], "to 200")

	require.NoError(t, env.Set(TraceBufferSize, "300"))
	assert.Len(t, *warnings, 2)
	assert.Equal(t, "300", vars[TraceBufferSize])
	assert.Equal(t, "300", env.Get(TraceBufferSize))
	assert.Equal(t, 2, env.Overwrites())
}

func TestSetSameValueIsSilent(t *testing.T) {
	env, vars, warnings := testEnv()
	vars[DumpOnTimeout] = "1"

	require.NoError(t, env.Set(DumpOnTimeout, "1"))
	assert.Empty(t, *warnings)
	assert.Zero(t, env.Overwrites())
}

func TestSetPropagatesErrors(t *testing.T) {
	env, _, _ := testEnv()
	env.Setenv = func(string, string) error {
		return fmt.Errorf("read-only environment")
	}
	err := env.Set(AvoidRecordStreams, "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), AvoidRecordStreams)
}

func TestProcessEnv(t *testing.T) {
	const key = "DISTRAIN_ENVCFG_TEST"
	t.Cleanup(func() { os.Unsetenv(key) })

	var warned int
	env := New()
	env.Warnf = func(string, ...interface{}) { warned++ }

	require.NoError(t, env.Set(key, "a"))
	require.NoError(t, env.Set(key, "b"))
	assert.Equal(t, "b", os.Getenv(key))
	assert.Equal(t, 1, warned)
}

func TestKeysAreDistinct(t *testing.T) {
	seen := map[string]bool{}
	for _, k := range Keys() {
		assert.False(t, seen[k], "duplicate key %s", k)
		seen[k] = true
	}
	assert.Len(t, seen, 5)
}
