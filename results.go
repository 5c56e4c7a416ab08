package rlcm

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Results collects everything an estimation run produces, in a form that
// encodes to JSON. Non-finite numbers become null.
type Results struct {
	Family     string   `json:"family"`
	ParamNames []string `json:"param_names"`

	Grid      []GridEntry `json:"grid,omitempty"`
	Best      []float64   `json:"best,omitempty"`
	MaxLogLik *float64    `json:"max_loglik,omitempty"`

	FiniteDiff []FiniteDiffEntry `json:"finite_diff,omitempty"`

	Fisher [][]*float64 `json:"fisher,omitempty"`
	Cov    [][]*float64 `json:"cov,omitempty"`
	Stderr []*float64   `json:"stderr,omitempty"`

	KrigedField []float64         `json:"kriged_field,omitempty"`
	Predictions []PredictionEntry `json:"predictions,omitempty"`

	Warnings []string `json:"warnings,omitempty"`
}

// GridEntry is one grid-search candidate.
type GridEntry struct {
	Params []float64 `json:"params"`
	LogLik *float64  `json:"loglik"`
	Error  string    `json:"error,omitempty"`
}

// FiniteDiffEntry is one row of a finite-difference check.
type FiniteDiffEntry struct {
	Param      string   `json:"param"`
	Step       float64  `json:"step"`
	FirstDiff  *float64 `json:"first_diff"`
	SecondDiff *float64 `json:"second_diff"`
}

// PredictionEntry is the kriging result at one test point.
type PredictionEntry struct {
	Index int      `json:"index"`
	Truth *float64 `json:"truth,omitempty"`
	Mean  float64  `json:"mean"`
	Std   float64  `json:"std"`
}

// NewResults starts a result set for family.
func NewResults(family Family) *Results {
	return &Results{Family: family.Name(), ParamNames: family.ParamNames()}
}

// AddSearch records a grid search.
func (r *Results) AddSearch(sr *SearchResult) {
	r.Grid = make([]GridEntry, len(sr.Candidates))
	for i, c := range sr.Candidates {
		e := GridEntry{Params: c, LogLik: finite(sr.LogLik[i])}
		if sr.Errors[i] != nil {
			e.Error = sr.Errors[i].Error()
		}
		r.Grid[i] = e
	}
	if sr.BestIndex >= 0 {
		r.Best = sr.Best
		r.MaxLogLik = finite(sr.MaxLogLik)
	}
}

// AddFiniteDiff records a finite-difference check.
func (r *Results) AddFiniteDiff(rows []FiniteDiffRow) {
	r.FiniteDiff = make([]FiniteDiffEntry, len(rows))
	for i, row := range rows {
		name := ""
		if row.Param < len(r.ParamNames) {
			name = r.ParamNames[row.Param]
		}
		r.FiniteDiff[i] = FiniteDiffEntry{
			Param:      name,
			Step:       row.Step,
			FirstDiff:  finite(row.FirstDiff),
			SecondDiff: finite(row.SecondDiff),
		}
	}
}

// AddFisher records a Fisher computation.
func (r *Results) AddFisher(fr *FisherResult) {
	r.Fisher = symRows(fr.Fisher)
	r.Cov = symRows(fr.Cov)
	r.Stderr = make([]*float64, len(fr.Stderr))
	for i, v := range fr.Stderr {
		r.Stderr[i] = finite(v)
	}
}

// AddPrediction records kriging output. index maps test positions to field
// positions; truth may be nil.
func (r *Results) AddPrediction(pred *Prediction, index []int, truth []float64) {
	r.Predictions = make([]PredictionEntry, len(pred.Mean))
	for i := range pred.Mean {
		e := PredictionEntry{Index: i, Mean: pred.Mean[i], Std: pred.Std[i]}
		if i < len(index) {
			e.Index = index[i]
		}
		if i < len(truth) {
			e.Truth = finite(truth[i])
		}
		r.Predictions[i] = e
	}
}

// AddWarnings records numerical-stability warnings.
func (r *Results) AddWarnings(ws []Warning) {
	for _, w := range ws {
		r.Warnings = append(r.Warnings, w.String())
	}
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func symRows(m *mat.SymDense) [][]*float64 {
	n := m.SymmetricDim()
	rows := make([][]*float64, n)
	for i := range rows {
		rows[i] = make([]*float64, n)
		for j := range rows[i] {
			rows[i][j] = finite(m.At(i, j))
		}
	}
	return rows
}
