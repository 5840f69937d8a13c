// NASEnv: Reinforcement Learning Environment for Neural Architecture Search
// Copyright (C) 2026  NASEnv Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"gonum.org/v1/gonum/stat"

	"nasenv/internal/client"
	"nasenv/internal/config"
	"nasenv/internal/logging"
	"nasenv/internal/model"
	"nasenv/internal/remote"
	"nasenv/internal/storage"
	"nasenv/internal/tasks"
	"nasenv/pkg/env"
	"nasenv/pkg/genotype"
	"nasenv/pkg/reward"
)

var (
	// Search flags
	taskName     = flag.String("task", "clusters-5way-3shot", "manifest task to search on")
	manifestPath = flag.String("manifest", "", "task manifest YAML (empty = built-in tasks)")
	episodes     = flag.Int("episodes", 10, "episodes to run")
	maxSteps     = flag.Int("max-steps", 100, "steps per episode")
	nodes        = flag.Int("nodes", 3, "intermediate nodes per cell")
	cellName     = flag.String("cell", "normal", "cell to search: normal, reduce")
	mutateAmount = flag.Float64("mutate", 0.3, "probability mass moved per mutation")
	seed         = flag.Int64("seed", 1, "run seed")
	testMode     = flag.Bool("test-mode", false, "use random rewards instead of estimation (no task)")

	// Estimator flags
	estimator    = flag.String("estimator", "finetune", "accuracy estimator: finetune, predictor")
	predictorURL = flag.String("predictor-url", "", "predictor service base URL")
	samples      = flag.Int("samples", 0, "architecture samples per estimate (0 = task sample count)")

	// Artifact flags
	checkpointPath = flag.String("checkpoint", "", "bbolt checkpoint file (empty = disabled)")
	datasetPath    = flag.String("dataset", "", "parquet dataset output (empty = disabled)")
	arrowPath      = flag.String("arrow", "", "Arrow IPC export of the dataset (empty = disabled)")

	// Remote validation flags
	remoteValidate = flag.Bool("remote-validate", false, "fine-tune the final model on the training host")
	remoteEpochs   = flag.Int("remote-epochs", 0, "fine-tune epochs on the training host (0 = trainer default)")

	logLevel = flag.String("log-level", "", "log level: debug, info, warn, error (empty = NASENV_LOG_LEVEL)")
)

func init() {
	if url := config.GetPredictorURL(); url != "" && *predictorURL == "" {
		*predictorURL = url
	}
}

// episodeStats summarizes one finished episode.
type episodeStats struct {
	Return  float64
	BestAcc float64
	Steps   int
}

func main() {
	flag.Parse()

	level := *logLevel
	if level == "" {
		level = config.GetLogLevel()
	}
	logger, err := logging.NewLogger(&logging.Config{Level: level, Prefix: "agent"})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Close()

	if err := run(logger); err != nil {
		logger.Fatal("%v", err)
	}
}

func run(logger *logging.Logger) error {
	cell, err := env.ParseCellKind(*cellName)
	if err != nil {
		return err
	}

	mcfg := model.DefaultConfig()
	mcfg.Nodes = *nodes
	mcfg.Seed = *seed

	var (
		task env.Task
		est  env.Estimator
	)
	if !*testMode {
		manifest := tasks.DefaultManifest()
		if *manifestPath != "" {
			m, err := tasks.LoadManifest(*manifestPath)
			if err != nil {
				return fmt.Errorf("loading manifest %s: %w", *manifestPath, err)
			}
			manifest = m
		}

		spec, err := manifest.Spec(*taskName)
		if err != nil {
			return err
		}
		mcfg.InputSize = spec.Rows * spec.Cols
		mcfg.Classes = spec.Ways

		task, err = tasks.Generate(spec)
		if err != nil {
			return fmt.Errorf("generating task %s: %w", *taskName, err)
		}
		est, err = buildEstimator(spec, logger)
		if err != nil {
			return err
		}
	}

	net, err := model.New(mcfg)
	if err != nil {
		return fmt.Errorf("building search model: %w", err)
	}

	e, err := env.New(env.Config{
		Nodes:         mcfg.Nodes,
		Cell:          cell,
		MaxEpisodeLen: *maxSteps,
		MutateAmount:  *mutateAmount,
		TestMode:      *testMode,
		Seed:          *seed,
		Logger:        logger,
	}, net, est)
	if err != nil {
		return err
	}
	defer e.Close()

	var cp *storage.Checkpointer
	if *checkpointPath != "" {
		cp, err = storage.NewCheckpointer(*checkpointPath)
		if err != nil {
			return fmt.Errorf("opening checkpoint: %w", err)
		}
		defer cp.Close()
	}

	if *testMode {
		if _, err := e.Reset(); err != nil {
			return err
		}
	} else {
		state, err := net.Serialize()
		if err != nil {
			return fmt.Errorf("snapshotting fresh model: %w", err)
		}
		if err := e.SetTask(task, state); err != nil {
			return err
		}
		if cp != nil && !cp.HasModelState(*taskName) {
			if err := cp.SaveModelState(*taskName, state); err != nil {
				return fmt.Errorf("checkpointing model state: %w", err)
			}
		}
	}

	var writer *storage.DatasetWriter
	if *datasetPath != "" {
		writer, err = storage.NewDatasetWriter(*datasetPath)
		if err != nil {
			return fmt.Errorf("opening dataset: %w", err)
		}
	}

	fmt.Printf("Searching the %s cell on %q: %d episodes, up to %d steps each\n",
		*cellName, *taskName, *episodes, *maxSteps)

	p := mpb.New(mpb.WithWidth(80))
	bar := p.AddBar(int64(*episodes),
		mpb.PrependDecorators(
			decor.Name("Episodes: "),
			decor.Percentage(decor.WCSyncSpace),
		),
		mpb.AppendDecorators(
			decor.OnComplete(decor.AverageETA(decor.ET_STYLE_GO), "done!"),
		),
	)

	rng := rand.New(rand.NewSource(*seed))
	var (
		records []storage.ArchRecord
		stats   []episodeStats
		bestAcc float64
		bestEp  int
	)

	for ep := 1; ep <= *episodes; ep++ {
		if _, err := e.Reset(); err != nil {
			return fmt.Errorf("episode %d reset: %w", ep, err)
		}

		var ret, epBest float64
		steps := 0
		for {
			action := rng.Intn(e.ActionSpaceSize())
			res, err := e.Step(action)
			if err != nil {
				return fmt.Errorf("episode %d step %d: %w", ep, steps, err)
			}
			ret += res.Reward
			steps++

			if res.Info.Acc != nil {
				acc := *res.Info.Acc
				if acc > epBest {
					epBest = acc
				}
				if writer != nil || *arrowPath != "" {
					if g, gerr := genotype.GraphFromNormalized(e.Normalized(), e.Primitives()); gerr == nil {
						rec, rerr := storage.RecordFromGraph(*taskName, ep, res.Info.StepCount, g, acc, res.Reward)
						if rerr == nil {
							records = append(records, rec)
							if writer != nil {
								if err := writer.Append(rec); err != nil {
									return fmt.Errorf("appending dataset record: %w", err)
								}
							}
						}
					}
				}
			}
			if res.Done {
				break
			}
		}

		stats = append(stats, episodeStats{Return: ret, BestAcc: epBest, Steps: steps})
		if epBest > bestAcc {
			bestAcc = epBest
			bestEp = ep
			if cp != nil {
				best := storage.EpisodeBest{
					Task:       *taskName,
					Episode:    ep,
					Accuracy:   epBest,
					Alphas:     e.MaxAlphas(),
					Genotype:   renderGenotype(e),
					RecordedAt: time.Now(),
				}
				if err := cp.SaveEpisodeBest(best); err != nil {
					logger.Warn("Checkpointing episode best: %v", err)
				}
			}
		}
		if cp != nil && !*testMode {
			if err := cp.SaveBaseline(*taskName, e.Baseline()); err != nil {
				logger.Warn("Checkpointing baseline: %v", err)
			}
		}
		bar.Increment()
	}
	p.Wait()

	if writer != nil {
		n := writer.Count()
		if err := writer.Close(); err != nil {
			return fmt.Errorf("closing dataset: %w", err)
		}
		fmt.Printf("Wrote %d architecture records to %s\n", n, *datasetPath)
	}
	if *arrowPath != "" {
		if err := storage.WriteArchRecordsToArrowIPC(*arrowPath, records); err != nil {
			return fmt.Errorf("exporting Arrow dataset: %w", err)
		}
		fmt.Printf("Exported %d architecture records to %s\n", len(records), *arrowPath)
	}

	printSummary(stats, bestAcc, bestEp, e)

	if *remoteValidate {
		if err := validateRemotely(net, logger); err != nil {
			return fmt.Errorf("remote validation: %w", err)
		}
	}
	return nil
}

func buildEstimator(spec tasks.TaskSpec, logger *logging.Logger) (env.Estimator, error) {
	kind := reward.Kind(*estimator)
	switch kind {
	case reward.KindFineTune, reward.KindPredictor:
	default:
		return nil, fmt.Errorf("unknown estimator %q (want finetune or predictor)", *estimator)
	}

	n := spec.Ways * spec.Shots
	if *samples > 0 {
		n = *samples
	}
	cfg := reward.Config{Kind: kind, Samples: n, Logger: logger}
	if kind == reward.KindPredictor {
		if *predictorURL == "" {
			return nil, fmt.Errorf("predictor estimation requires -predictor-url or NASENV_PREDICTOR_URL")
		}
		cfg.Predictor = client.NewPredictorClient(*predictorURL)
	}
	return reward.New(cfg)
}

func printSummary(stats []episodeStats, bestAcc float64, bestEp int, e *env.Env) {
	returns := make([]float64, len(stats))
	accs := make([]float64, len(stats))
	steps := make([]float64, len(stats))
	for i, s := range stats {
		returns[i] = s.Return
		accs[i] = s.BestAcc
		steps[i] = float64(s.Steps)
	}

	fmt.Printf("\nSearch complete: %d episodes\n", len(stats))
	fmt.Printf("Mean return:      %.4f (stddev %.4f)\n", stat.Mean(returns, nil), stddev(returns))
	fmt.Printf("Mean best acc:    %.4f (stddev %.4f)\n", stat.Mean(accs, nil), stddev(accs))
	fmt.Printf("Mean steps:       %.1f\n", stat.Mean(steps, nil))
	fmt.Printf("Final baseline:   %.4f\n", e.Baseline())
	if bestEp > 0 {
		fmt.Printf("Best accuracy:    %.4f (episode %d)\n", bestAcc, bestEp)
	}
	if arch := renderGenotype(e); arch != "" {
		fmt.Printf("Best genotype:    %s\n", arch)
	}
}

// stddev avoids the NaN gonum returns for a single sample.
func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	return stat.StdDev(xs, nil)
}

// renderGenotype flattens the best alphas seen this run into the
// canonical architecture string, or "" when they do not form a valid
// cell.
func renderGenotype(e *env.Env) string {
	norm := env.NewStore(e.MaxAlphas(), 0).Normalized()
	g, err := genotype.GraphFromNormalized(norm, e.Primitives())
	if err != nil {
		return ""
	}
	arch, err := genotype.NASBench201String(g)
	if err != nil {
		return ""
	}
	return arch
}

// validateRemotely ships the final model to the training host for a
// full fine-tune pass.
func validateRemotely(net *model.SearchNetwork, logger *logging.Logger) error {
	state, err := net.Serialize()
	if err != nil {
		return fmt.Errorf("serializing model: %w", err)
	}

	runner := remote.NewRunner(remote.DefaultConfig())
	runner.SetLogWriter(os.Stdout)
	defer runner.Disconnect()

	logger.Info("Starting remote fine-tune for %s", *taskName)
	result, err := runner.Evaluate(remote.Job{
		Name:   fmt.Sprintf("%s-%d", *taskName, time.Now().Unix()),
		State:  state,
		Task:   *taskName,
		Epochs: *remoteEpochs,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Remote fine-tune: accuracy %.4f (%.1fs)\n", result.Accuracy, result.Seconds)
	return nil
}
