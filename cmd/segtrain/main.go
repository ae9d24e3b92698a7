// Command segtrain trains and evaluates a semantic-segmentation model over
// HDF5 sample archives.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/geodl/segtrain/config"
	"github.com/geodl/segtrain/device"
	"github.com/geodl/segtrain/model"
	"github.com/geodl/segtrain/samples/hdf5store"
	"github.com/geodl/segtrain/tracking"
	"github.com/geodl/segtrain/training"
	"github.com/geodl/segtrain/vis"
)

func trainCmd() *cobra.Command {
	var configPath *string
	var accelMemMB *[]float64
	var verbose *bool

	trainCmd := cobra.Command{
		Use:   "train",
		Short: "run a training/evaluation loop from a YAML configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := buildLogger(*verbose)
			if err != nil {
				return err
			}
			defer logger.Sync()
			return runTraining(*configPath, *accelMemMB, logger)
		},
	}

	configPath = trainCmd.Flags().StringP("config", "c", "config.yaml",
		"path to the YAML configuration file")

	accelMemMB = trainCmd.Flags().Float64Slice("accel-mem", nil,
		"available memory in MB of each accelerator device, in ordinal order")

	verbose = trainCmd.Flags().BoolP("verbose", "v", false,
		"enable debug logging")

	return &trainCmd
}

func buildLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}

func runTraining(configPath string, accelMemMB []float64, logger *zap.Logger) error {
	fs := afero.NewOsFs()

	cfg, err := config.Load(fs, configPath)
	if err != nil {
		return err
	}

	accels := make(map[int]device.Info, len(accelMemMB))
	for ordinal, mem := range accelMemMB {
		accels[ordinal] = device.Info{MemoryMB: mem}
	}

	bundle, err := model.Build(cfg, accels, logger)
	if err != nil {
		return err
	}

	var visualizer training.Visualizer
	if len(cfg.Visualization.VisBatchRange) > 0 {
		visualizer, err = vis.NewRenderer(fs, cfg.General.OutputPath, cfg.NumClassesCorrected(), logger)
		if err != nil {
			return err
		}
	}

	var tracker tracking.Tracker = tracking.Nop{}
	if cfg.Tracker.URI != "" {
		tracker = tracking.NewMLflow(cfg.Tracker.URI, cfg.Tracker.Experiment)
	}

	trainer := training.NewTrainer(cfg, fs, hdf5store.Opener, training.Components{
		Model:     bundle.Model,
		Criterion: bundle.Criterion,
		Optimizer: bundle.Optimizer,
		Scheduler: bundle.Scheduler,
		Device:    bundle.Device,
		Devices:   bundle.Devices,
	}, visualizer, tracker, logger)

	summary, err := trainer.Run()
	if err != nil {
		return err
	}
	logger.Info("training complete",
		zap.Float64("best_loss", summary.BestLoss),
		zap.String("checkpoint", summary.CheckpointPath))
	return nil
}

func main() {
	root := cobra.Command{
		Use:           "segtrain",
		Short:         "semantic-segmentation training over HDF5 sample archives",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(trainCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
