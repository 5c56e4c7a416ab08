// Command rlcmgp estimates Gaussian-process hyperparameters of a random field
// by grid search over the RLCM log-likelihood, optionally computes Fisher
// standard errors, and krigs the held-out points.
//
// Usage:
//
//	rlcmgp -job job.yaml [-metrics-addr :2112] [-v]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/TrevorS/rlcm"
)

func main() {
	jobPath := flag.String("job", "", "YAML job file")
	metricsAddr := flag.String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :2112)")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	logger, err := newLogger(*verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rlcmgp: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if *jobPath == "" {
		flag.Usage()
		os.Exit(2)
	}
	job, err := loadJob(*jobPath)
	if err != nil {
		logger.Fatal("invalid job", zap.String("path", *jobPath), zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	collector := newPromCollector(reg)
	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			logger.Info("serving metrics", zap.String("addr", *metricsAddr))
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", zap.Error(err))
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, job, logger, collector); err != nil {
		logger.Fatal("run failed", zap.Error(err))
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(ctx context.Context, job Job, logger *zap.Logger, mc rlcm.MetricsCollector) error {
	fam, err := rlcm.FamilyByName(job.Kernel)
	if err != nil {
		return err
	}
	cfg := job.config()
	seed := rlcm.ResolveSeed(cfg.Seed)
	logger.Info("starting job",
		zap.String("kernel", fam.Name()),
		zap.Int("rank", cfg.Rank),
		zap.Float64("lambda", cfg.Lambda),
		zap.Uint64("seed", seed),
	)

	field, err := loadField(job, fam, seed)
	if err != nil {
		return err
	}
	if err := field.Validate(len(fam.ParamNames())); err != nil {
		return err
	}
	if job.Output.Field != "" {
		if err := writeJSON(filepath.Join(job.Output.Dir, job.Output.Field), field); err != nil {
			return err
		}
	}

	train, test, err := field.SplitTrainTest()
	if err != nil {
		return err
	}
	tree, err := rlcm.BuildTree(train.Points, cfg.TreeConfig())
	if err != nil {
		return err
	}
	logger.Info("built cluster tree",
		zap.Int("train", train.Points.N()),
		zap.Int("test", test.Points.N()),
		zap.Int("levels", tree.Levels()),
		zap.Int("nodes", tree.NumNodes()),
	)

	opts := []rlcm.Option{
		rlcm.WithLogger(logger),
		rlcm.WithMetrics(mc),
		rlcm.WithSeed(seed),
		rlcm.WithWorkers(cfg.Workers),
	}
	est, err := rlcm.NewEstimator(tree, train.Y, fam, cfg.Lambda, opts...)
	if err != nil {
		return err
	}

	results := rlcm.NewResults(fam)
	sr, err := rlcm.GridSearch(ctx, est, rlcm.Grid(job.Grid))
	if sr != nil {
		results.AddSearch(sr)
	}
	if err != nil {
		return err
	}
	if field.Params != nil {
		if ll, _, err := est.LogLik(field.Params); err == nil {
			logger.Info("log-likelihood at true parameters", zap.Float64s("params", field.Params), zap.Float64("loglik", ll))
		}
	}

	if job.FiniteDiff {
		rows, err := rlcm.FiniteDiffCheck(ctx, est, sr.Best, sr.MaxLogLik, 1e-3, 2, 10)
		if err != nil {
			return err
		}
		results.AddFiniteDiff(rows)
	}
	if job.Fisher {
		fr, err := rlcm.Fisher(ctx, est, sr.Best, sr.MaxLogLik, job.DiffSteps)
		if err != nil {
			logger.Warn("fisher information unavailable", zap.Error(err))
		} else {
			results.AddFisher(fr)
			logger.Info("standard errors", zap.Float64s("stderr", fr.Stderr))
		}
	}

	if job.Krige {
		if err := krige(ctx, job, fam, sr.Best, tree, train, test, field, results, opts); err != nil {
			return err
		}
	}

	path := filepath.Join(job.Output.Dir, job.Output.Results)
	if err := writeJSON(path, results); err != nil {
		return err
	}
	logger.Info("wrote results", zap.String("path", path))
	return nil
}

func krige(ctx context.Context, job Job, fam rlcm.Family, best []float64, tree *rlcm.Tree,
	train, test rlcm.Split, field *rlcm.RandomField, results *rlcm.Results, opts []rlcm.Option) error {
	kernel, err := fam.Kernel(best)
	if err != nil {
		return err
	}
	hm, err := rlcm.NewHMatrix(tree, kernel, job.Lambda, opts...)
	if err != nil {
		return err
	}
	kr, err := rlcm.Train(hm, train.Y)
	if err != nil {
		return err
	}
	pred, err := kr.Predict(ctx, test.Points)
	if err != nil {
		return err
	}
	results.AddPrediction(pred, test.Index, test.Y)
	results.AddWarnings(kr.Factor().Warnings())

	kriged, err := rlcm.AssembleField(train.Y, pred.Mean, train.Index, test.Index)
	if err != nil {
		return err
	}
	results.KrigedField = kriged

	if job.Output.Plot != "" && field.Dims() == 2 {
		path := filepath.Join(job.Output.Dir, job.Output.Plot)
		title := fmt.Sprintf("kriged field, %s %v", fam.Name(), best)
		if err := plotField(path, title, field.Shape, field.Lower, field.Upper, kriged); err != nil {
			return fmt.Errorf("plot: %w", err)
		}
	}
	return nil
}

// loadField reads the job's field file or samples a synthetic field.
func loadField(job Job, fam rlcm.Family, seed uint64) (*rlcm.RandomField, error) {
	if job.Field.File != "" {
		data, err := os.ReadFile(job.Field.File)
		if err != nil {
			return nil, fmt.Errorf("read field: %w", err)
		}
		var rf rlcm.RandomField
		if err := json.Unmarshal(data, &rf); err != nil {
			return nil, fmt.Errorf("parse field %s: %w", job.Field.File, err)
		}
		return &rf, nil
	}

	s := job.Field.Synthetic
	rf := &rlcm.RandomField{Shape: s.Shape, Lower: s.Lower, Upper: s.Upper, Params: s.Params}
	pts, err := rf.Grid()
	if err != nil {
		return nil, err
	}
	kernel, err := fam.Kernel(s.Params)
	if err != nil {
		return nil, err
	}
	lambda := s.Lambda
	if lambda == 0 {
		lambda = job.Lambda
	}
	if rf.Y, err = rlcm.SampleField(pts, kernel, lambda, seed, job.Workers); err != nil {
		return nil, err
	}
	nTrain := int(math.Round(s.TrainFraction * float64(pts.N())))
	if rf.Train, rf.Test, err = rlcm.RandomSplit(pts.N(), nTrain, seed); err != nil {
		return nil, err
	}
	return rf, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
