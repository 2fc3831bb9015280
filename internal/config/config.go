// Package config loads the training configuration of the kiln command.
//
// Configuration is YAML. Fields left out of a file keep their defaults:
//
//	model:
//	  inputs: 4
//	  hidden: 16
//	  dropout: 0.1
//	train:
//	  steps: 300
//	  optimizer: adam
//	  lr: 0.01
//	quantize:
//	  enabled: true
//	  bits: 8
package config

import (
	"bytes"
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the full configuration of a training run.
type Config struct {
	Model    Model    `yaml:"model"`
	Train    Train    `yaml:"train"`
	Quantize Quantize `yaml:"quantize"`
}

// Model describes the network: inputs -> hidden -> 1 with a tanh activation.
type Model struct {
	Inputs  int     `yaml:"inputs"`
	Hidden  int     `yaml:"hidden"`
	Dropout float32 `yaml:"dropout"`
}

// Train holds optimizer and loop settings.
type Train struct {
	Steps     int     `yaml:"steps"`
	BatchSize int     `yaml:"batch_size"`
	Optimizer string  `yaml:"optimizer"` // "sgd" or "adam"
	LR        float32 `yaml:"lr"`
	Momentum  float32 `yaml:"momentum"`
	Seed      uint64  `yaml:"seed"`
	LogEvery  int     `yaml:"log_every"`
}

// Quantize controls post-training quantization of the model.
type Quantize struct {
	Enabled   bool   `yaml:"enabled"`
	GroupSize int    `yaml:"group_size"`
	Bits      int    `yaml:"bits"`
	Mode      string `yaml:"mode"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Model: Model{
			Inputs:  4,
			Hidden:  32,
			Dropout: 0,
		},
		Train: Train{
			Steps:     300,
			BatchSize: 64,
			Optimizer: "adam",
			LR:        0.01,
			Momentum:  0.9,
			Seed:      42,
			LogEvery:  50,
		},
		Quantize: Quantize{
			Enabled:   false,
			GroupSize: 32,
			Bits:      8,
			Mode:      "affine",
		},
	}
}

// Load reads the file at path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result. Unknown
// fields are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrap(err, "decode yaml")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Model.Inputs <= 0:
		return errors.Errorf("model.inputs must be positive, got %d", c.Model.Inputs)
	case c.Model.Hidden <= 0:
		return errors.Errorf("model.hidden must be positive, got %d", c.Model.Hidden)
	case c.Model.Dropout < 0 || c.Model.Dropout >= 1:
		return errors.Errorf("model.dropout must be in [0, 1), got %v", c.Model.Dropout)
	case c.Train.Steps <= 0:
		return errors.Errorf("train.steps must be positive, got %d", c.Train.Steps)
	case c.Train.BatchSize <= 0:
		return errors.Errorf("train.batch_size must be positive, got %d", c.Train.BatchSize)
	case c.Train.LR <= 0:
		return errors.Errorf("train.lr must be positive, got %v", c.Train.LR)
	case c.Train.Momentum < 0 || c.Train.Momentum >= 1:
		return errors.Errorf("train.momentum must be in [0, 1), got %v", c.Train.Momentum)
	case c.Train.LogEvery < 0:
		return errors.Errorf("train.log_every must not be negative, got %d", c.Train.LogEvery)
	}
	switch c.Train.Optimizer {
	case "sgd", "adam":
	default:
		return errors.Errorf("train.optimizer must be sgd or adam, got %q", c.Train.Optimizer)
	}
	if !c.Quantize.Enabled {
		return nil
	}
	switch c.Quantize.GroupSize {
	case 32, 64, 128:
	default:
		return errors.Errorf("quantize.group_size must be 32, 64 or 128, got %d", c.Quantize.GroupSize)
	}
	switch c.Quantize.Bits {
	case 2, 4, 8:
	default:
		return errors.Errorf("quantize.bits must be 2, 4 or 8, got %d", c.Quantize.Bits)
	}
	switch c.Quantize.Mode {
	case "affine", "mxfp4":
	default:
		return errors.Errorf("quantize.mode must be affine or mxfp4, got %q", c.Quantize.Mode)
	}
	return nil
}

// Marshal encodes c as YAML.
func (c *Config) Marshal() ([]byte, error) {
	out, err := yaml.Marshal(c)
	return out, errors.Wrap(err, "encode yaml")
}
