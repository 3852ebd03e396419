// Package config holds the job and model settings that
// the distributed helpers read.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// JobConfig is the top-level job configuration file.
type JobConfig struct {
	Job      Job         `yaml:"job"`
	Comm     Comm        `yaml:"comm"`
	Training Training    `yaml:"training"`
	Model    ModelConfig `yaml:"model"`
}

// Job holds settings about the job as a whole.
type Job struct {
	Description string `yaml:"description"`

	// DumpFolder is the root for everything the job
	// writes, including flight recorder traces.
	DumpFolder string `yaml:"dump_folder"`
}

// Comm configures the communication backend.
type Comm struct {
	// InitTimeoutSeconds bounds collectives until the first
	// training step finishes, which covers slow startup.
	InitTimeoutSeconds int `yaml:"init_timeout_seconds"`

	// TrainTimeoutSeconds bounds collectives after the
	// first step.
	TrainTimeoutSeconds int `yaml:"train_timeout_seconds"`

	// TraceBufSize is the number of collectives the flight
	// recorder keeps. Zero disables it.
	TraceBufSize int `yaml:"trace_buf_size"`

	// SaveTracesFolder is the folder under Job.DumpFolder
	// where flight recorder dumps go.
	SaveTracesFolder string `yaml:"save_traces_folder"`
}

// InitTimeout returns InitTimeoutSeconds as a Duration.
func (c Comm) InitTimeout() time.Duration {
	return time.Duration(c.InitTimeoutSeconds) * time.Second
}

// TrainTimeout returns TrainTimeoutSeconds as a Duration.
func (c Comm) TrainTimeout() time.Duration {
	return time.Duration(c.TrainTimeoutSeconds) * time.Second
}

// Training holds the training loop settings used for
// throughput accounting.
type Training struct {
	BatchSize int `yaml:"batch_size"`
	SeqLen    int `yaml:"seq_len"`
	Steps     int `yaml:"steps"`
}

// ModelConfig describes the shape of a transformer.
type ModelConfig struct {
	Name    string `yaml:"name"`
	NLayers int    `yaml:"n_layers"`
	NHeads  int    `yaml:"n_heads"`
	Dim     int    `yaml:"dim"`
}

// HeadDim is the per-head dimension, Dim / NHeads.
func (m ModelConfig) HeadDim() int {
	return m.Dim / m.NHeads
}

// Default returns a JobConfig with every default filled
// in.
func Default() *JobConfig {
	return &JobConfig{
		Job: Job{
			Description: "default job",
			DumpFolder:  "./outputs",
		},
		Comm: Comm{
			InitTimeoutSeconds:  300,
			TrainTimeoutSeconds: 100,
			TraceBufSize:        20000,
			SaveTracesFolder:    "comm_trace",
		},
		Training: Training{
			BatchSize: 8,
			SeqLen:    2048,
			Steps:     10,
		},
		Model: ModelConfig{
			Name:    "debugmodel",
			NLayers: 8,
			NHeads:  16,
			Dim:     256,
		},
	}
}

// Parse decodes a YAML job config on top of the
// defaults and validates it.
func Parse(data []byte) (*JobConfig, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "parse job config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads and parses a YAML job config file.
func Load(path string) (*JobConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read job config %s", path)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", path)
	}
	return cfg, nil
}

// Validate checks the settings that the helpers rely on.
func (j *JobConfig) Validate() error {
	if j.Comm.InitTimeoutSeconds <= 0 {
		return errors.Errorf("comm.init_timeout_seconds must be positive, got %d",
			j.Comm.InitTimeoutSeconds)
	}
	if j.Comm.TrainTimeoutSeconds <= 0 {
		return errors.Errorf("comm.train_timeout_seconds must be positive, got %d",
			j.Comm.TrainTimeoutSeconds)
	}
	if j.Comm.TraceBufSize < 0 {
		return errors.Errorf("comm.trace_buf_size must not be negative, got %d",
			j.Comm.TraceBufSize)
	}
	if j.Comm.TraceBufSize > 0 && j.Job.DumpFolder == "" {
		return errors.New("job.dump_folder is required when the flight recorder is enabled")
	}
	if j.Model.NHeads <= 0 || j.Model.NLayers <= 0 || j.Model.Dim <= 0 {
		return errors.Errorf("model %q needs positive n_layers, n_heads and dim", j.Model.Name)
	}
	if j.Model.Dim%j.Model.NHeads != 0 {
		return errors.Errorf("model dim %d is not divisible by n_heads %d",
			j.Model.Dim, j.Model.NHeads)
	}
	if j.Training.SeqLen <= 0 {
		return errors.Errorf("training.seq_len must be positive, got %d", j.Training.SeqLen)
	}
	return nil
}
