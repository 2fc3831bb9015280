// Package main provides the kiln command line.
//
// Usage:
//
//	kiln version
//	kiln train [-config kiln.yaml] [-steps N] [-lr F] [-optimizer sgd|adam] [-quantize] [-v 4]
//
// train fits a small regression network on synthetic data drawn from a fixed
// linear target, then optionally quantizes it and reports the loss again.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/kiln/internal/config"
)

const version = "v0.1.0-dev"

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		klog.ErrorS(err, "kiln failed")
		klog.Flush()
		os.Exit(1)
	}
	klog.Flush()
}

func run(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		usage(stdout)
		return nil
	}
	switch args[0] {
	case "version":
		fmt.Fprintf(stdout, "kiln %s\n", version)
		return nil
	case "train":
		cfg, err := parseTrainFlags(args[1:])
		if err != nil {
			return err
		}
		report, err := train(cfg)
		if err != nil {
			return err
		}
		report.print(stdout)
		return nil
	case "help", "-h", "--help":
		usage(stdout)
		return nil
	default:
		usage(stdout)
		return errors.Errorf("unknown command %q", args[0])
	}
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "kiln %s\n\n", version)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  version    Show version")
	fmt.Fprintln(w, "  train      Train a regression network on synthetic data")
}

// parseTrainFlags loads the config file, if any, and applies flag overrides.
func parseTrainFlags(args []string) (*config.Config, error) {
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	klog.InitFlags(fs)
	var (
		path      = fs.String("config", "", "YAML configuration file")
		steps     = fs.Int("steps", 0, "number of optimizer steps (overrides config)")
		lr        = fs.Float64("lr", 0, "learning rate (overrides config)")
		optimizer = fs.String("optimizer", "", "sgd or adam (overrides config)")
		seed      = fs.Uint64("seed", 0, "random seed (overrides config)")
		quantize  = fs.Bool("quantize", false, "quantize the trained model")
	)
	if err := fs.Parse(args); err != nil {
		return nil, errors.Wrap(err, "parse flags")
	}

	cfg := config.Default()
	if *path != "" {
		loaded, err := config.Load(*path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if *steps != 0 {
		cfg.Train.Steps = *steps
	}
	if *lr != 0 {
		cfg.Train.LR = float32(*lr)
	}
	if *optimizer != "" {
		cfg.Train.Optimizer = *optimizer
	}
	if *seed != 0 {
		cfg.Train.Seed = *seed
	}
	if *quantize {
		cfg.Quantize.Enabled = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
