package dist

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"github.com/unixpickle/distrain/config"
	"github.com/unixpickle/distrain/envcfg"
	"k8s.io/klog/v2"
)

// DefaultBackend uses gloo for CPU tensors and nccl for
// CUDA tensors.
const DefaultBackend = "cpu:gloo,cuda:nccl"

// ConfigureEnv writes the backend's error handling and
// flight recorder settings, and creates the trace dump
// directory when the flight recorder is enabled.
func ConfigureEnv(cfg *config.JobConfig, env *envcfg.Env) error {
	// Mode 3 skips cleanup after a watchdog abort. The
	// flight recorder cannot dump under mode 1.
	if err := env.Set(envcfg.AsyncErrorHandling, "3"); err != nil {
		return err
	}

	traceBufSize := cfg.Comm.TraceBufSize
	if err := env.Set(envcfg.TraceBufferSize, strconv.Itoa(traceBufSize)); err != nil {
		return err
	}
	if traceBufSize > 0 {
		if err := env.Set(envcfg.DumpOnTimeout, "1"); err != nil {
			return err
		}
		dumpDir := filepath.Join(cfg.Job.DumpFolder, cfg.Comm.SaveTracesFolder)
		if err := os.MkdirAll(dumpDir, 0o755); err != nil {
			return errors.Wrap(err, "create trace dump directory")
		}
		if err := env.Set(envcfg.DebugInfoTempFile, filepath.Join(dumpDir, "rank_")); err != nil {
			return err
		}
	}
	return nil
}

// InitDistributed configures the environment, starts the
// default process group with the init timeout, and then
// enables the memory flag.
//
// Nothing is undone on failure: settings written before
// the failing step stay in the environment.
func InitDistributed(cfg *config.JobConfig, env *envcfg.Env, rt Runtime) error {
	if err := ConfigureEnv(cfg, env); err != nil {
		return err
	}
	if err := rt.InitProcessGroup(DefaultBackend, cfg.Comm.InitTimeout()); err != nil {
		return err
	}
	// Collectives with async_op otherwise hold on to their
	// memory for longer than they need it.
	if err := env.Set(envcfg.AvoidRecordStreams, "1"); err != nil {
		return err
	}
	klog.V(1).Infof("distributed init done, trace buffer %d", cfg.Comm.TraceBufSize)
	return nil
}
