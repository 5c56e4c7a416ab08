package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/TrevorS/rlcm"
)

// Job is the YAML description of one estimation run.
type Job struct {
	// Kernel family: matern, gaussian or chi2.
	Kernel string `yaml:"kernel"`

	Rank    int     `yaml:"rank"`
	Levels  *int    `yaml:"levels"` // nil derives from N and rank
	Lambda  float64 `yaml:"lambda"`
	Seed    int64   `yaml:"seed"` // negative uses the clock
	Workers int     `yaml:"workers"`

	Field FieldSource `yaml:"field"`

	// Grid holds candidate values per kernel parameter, in the family's order.
	Grid [][]float64 `yaml:"grid"`

	FiniteDiff bool      `yaml:"finite_diff"`
	Fisher     bool      `yaml:"fisher"`
	DiffSteps  []float64 `yaml:"diff_steps"`
	Krige      bool      `yaml:"krige"`

	Output Output `yaml:"output"`
}

// FieldSource selects where the random field comes from: a JSON file written
// by a previous run, or a synthetic draw.
type FieldSource struct {
	File      string     `yaml:"file"`
	Synthetic *Synthetic `yaml:"synthetic"`
}

// Synthetic describes a field sampled from the kernel family at Params.
type Synthetic struct {
	Shape         []int     `yaml:"shape"`
	Lower         []float64 `yaml:"lower"`
	Upper         []float64 `yaml:"upper"`
	Params        []float64 `yaml:"params"`
	Lambda        float64   `yaml:"lambda"`
	TrainFraction float64   `yaml:"train_fraction"`
}

// Output controls what gets written.
type Output struct {
	Dir     string `yaml:"dir"`
	Results string `yaml:"results"` // JSON file name
	Field   string `yaml:"field"`   // JSON file name for the sampled field
	Plot    string `yaml:"plot"`    // PNG file name for the kriged field, 2-D only
}

func defaultJob() Job {
	return Job{
		Kernel: "matern",
		Rank:   32,
		Lambda: 1e-8,
		Output: Output{Dir: ".", Results: "results.json"},
	}
}

func loadJob(path string) (Job, error) {
	job := defaultJob()
	data, err := os.ReadFile(path)
	if err != nil {
		return job, fmt.Errorf("read job: %w", err)
	}
	if err := yaml.Unmarshal(data, &job); err != nil {
		return job, fmt.Errorf("parse job %s: %w", path, err)
	}
	return job, job.validate()
}

func (j Job) validate() error {
	fam, err := rlcm.FamilyByName(j.Kernel)
	if err != nil {
		return err
	}
	p := len(fam.ParamNames())
	if j.Field.File == "" && j.Field.Synthetic == nil {
		return fmt.Errorf("%w: job needs field.file or field.synthetic", rlcm.ErrBadConfig)
	}
	if s := j.Field.Synthetic; s != nil {
		if len(s.Params) != p {
			return fmt.Errorf("%w: synthetic params %v, %s wants %d", rlcm.ErrParamCount, s.Params, j.Kernel, p)
		}
		if !(s.TrainFraction > 0 && s.TrainFraction < 1) {
			return fmt.Errorf("%w: train_fraction must be in (0,1), got %g", rlcm.ErrBadConfig, s.TrainFraction)
		}
	}
	if len(j.Grid) != p {
		return fmt.Errorf("%w: grid has %d axes, %s wants %d", rlcm.ErrParamCount, len(j.Grid), j.Kernel, p)
	}
	if j.Fisher && len(j.DiffSteps) != p {
		return fmt.Errorf("%w: diff_steps has %d entries, %s wants %d", rlcm.ErrParamCount, len(j.DiffSteps), j.Kernel, p)
	}
	return nil
}

// config translates the job into the library configuration.
func (j Job) config() rlcm.Config {
	cfg := rlcm.DefaultConfig()
	cfg.Rank = j.Rank
	cfg.Lambda = j.Lambda
	cfg.Seed = j.Seed
	cfg.Workers = j.Workers
	if j.Levels != nil {
		cfg.Levels = *j.Levels
	}
	return cfg
}
