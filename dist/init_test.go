package dist

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/distrain/config"
	"github.com/unixpickle/distrain/envcfg"
)

func mapEnv(vars map[string]string, warnings *[]string) *envcfg.Env {
	return &envcfg.Env{
		Lookup: func(key string) (string, bool) {
			v, ok := vars[key]
			return v, ok
		},
		Setenv: func(key, value string) error {
			vars[key] = value
			return nil
		},
		Warnf: func(format string, args ...interface{}) {
			*warnings = append(*warnings, fmt.Sprintf(format, args...))
		},
	}
}

type fakeRuntime struct {
	vars    map[string]string
	err     error
	backend string
	timeout time.Duration
	envSeen map[string]string
}

func (f *fakeRuntime) InitProcessGroup(backend string, timeout time.Duration) error {
	f.backend = backend
	f.timeout = timeout
	f.envSeen = map[string]string{}
	for k, v := range f.vars {
		f.envSeen[k] = v
	}
	return f.err
}

func TestInitDistributed(t *testing.T) {
	cfg := config.Default()
	cfg.Job.DumpFolder = t.TempDir()
	cfg.Comm.TraceBufSize = 2000
	cfg.Comm.InitTimeoutSeconds = 42

	vars := map[string]string{}
	var warnings []string
	rt := &fakeRuntime{vars: vars}
	require.NoError(t, InitDistributed(cfg, mapEnv(vars, &warnings), rt))

	dumpDir := filepath.Join(cfg.Job.DumpFolder, "comm_trace")
	info, err := os.Stat(dumpDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	assert.Equal(t, map[string]string{
		envcfg.AsyncErrorHandling: "3",
		envcfg.TraceBufferSize:    "2000",
		envcfg.DumpOnTimeout:      "1",
		envcfg.DebugInfoTempFile:  dumpDir + "/rank_",
		envcfg.AvoidRecordStreams: "1",
	}, vars)
	assert.Empty(t, warnings)

	assert.Equal(t, DefaultBackend, rt.backend)
	assert.Equal(t, 42*time.Second, rt.timeout)
	_, memoryFlagEarly := rt.envSeen[envcfg.AvoidRecordStreams]
	assert.False(t, memoryFlagEarly, "memory flag must be set after the group starts")
	assert.Equal(t, "3", rt.envSeen[envcfg.AsyncErrorHandling])
}

func TestInitDistributedNoFlightRecorder(t *testing.T) {
	cfg := config.Default()
	cfg.Job.DumpFolder = filepath.Join(t.TempDir(), "job")
	cfg.Comm.TraceBufSize = 0

	vars := map[string]string{envcfg.AsyncErrorHandling: "1"}
	var warnings []string
	require.NoError(t, InitDistributed(cfg, mapEnv(vars, &warnings), &fakeRuntime{vars: vars}))

	assert.Equal(t, "0", vars[envcfg.TraceBufferSize])
	assert.Equal(t, "3", vars[envcfg.AsyncErrorHandling])
	assert.NotContains(t, vars, envcfg.DumpOnTimeout)
	assert.NotContains(t, vars, envcfg.DebugInfoTempFile)
	_, err := os.Stat(cfg.Job.DumpFolder)
	assert.True(t, os.IsNotExist(err))

	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], envcfg.AsyncErrorHandling)
}

func TestInitDistributedNoRollback(t *testing.T) {
	cfg := config.Default()
	cfg.Job.DumpFolder = t.TempDir()

	vars := map[string]string{}
	var warnings []string
	failure := errors.New("store unreachable")
	err := InitDistributed(cfg, mapEnv(vars, &warnings), &fakeRuntime{vars: vars, err: failure})
	assert.Equal(t, failure, err)

	assert.Equal(t, "3", vars[envcfg.AsyncErrorHandling])
	assert.Equal(t, "20000", vars[envcfg.TraceBufferSize])
	assert.NotContains(t, vars, envcfg.AvoidRecordStreams)
}

// TestInitDistributedCluster runs the full initialization
// on every rank of a simulated cluster sharing one
// environment.
func TestInitDistributedCluster(t *testing.T) {
	cfg := config.Default()
	cfg.Job.DumpFolder = t.TempDir()

	vars := map[string]string{}
	var warnings []string
	env := mapEnv(vars, &warnings)
	runCluster(t, 4, nil, func(p *Process) {
		if !assert.NoError(t, InitDistributed(cfg, env, p)) {
			return
		}
		def, err := p.DefaultGroup()
		if assert.NoError(t, err) {
			assert.Equal(t, cfg.Comm.InitTimeout(), def.Timeout())
		}
	})
	assert.Empty(t, warnings)
	assert.Equal(t, "1", vars[envcfg.AvoidRecordStreams])
}
