package anomaly

import (
	"math"
	"sort"
	"time"

	"github.com/montanaflynn/stats"
)

// Config tunes the detector. Zero values are replaced with defaults
// by NewDetector; the YAML-level configuration maps onto this struct.
type Config struct {
	// ZScoreThreshold flags a reading whose |z| exceeds this value.
	ZScoreThreshold float64

	// IQRMultiplier widens the interquartile fences (Tukey's rule).
	IQRMultiplier float64

	// MinSamples is the minimum usable baseline size for any scoring.
	MinSamples int

	// MinEnsembleSamples is the minimum usable baseline size for the
	// full three-method ensemble.
	MinEnsembleSamples int

	// WeightZScore, WeightIQR and WeightMultiDim blend the per-method
	// scores into the ensemble score. They should sum to 1.
	WeightZScore   float64
	WeightIQR      float64
	WeightMultiDim float64

	// DecisionThreshold is the ensemble score above which a reading
	// is declared anomalous.
	DecisionThreshold float64
}

// DefaultConfig returns the standard detector tuning.
func DefaultConfig() Config {
	return Config{
		ZScoreThreshold:    2.5,
		IQRMultiplier:      1.5,
		MinSamples:         5,
		MinEnsembleSamples: 20,
		WeightZScore:       0.4,
		WeightIQR:          0.3,
		WeightMultiDim:     0.3,
		DecisionThreshold:  0.5,
	}
}

// multiDimScale maps a mean feature distance d onto [0, 1) via d/(d+scale).
// A distance of one scale unit maps to 0.5, the flagging boundary.
const multiDimScale = 2.0

// Detector scores readings against a per-point historical baseline
// using an ensemble of three methods: z-score, interquartile range,
// and a multi-dimensional feature-distance model.
//
// Detector is stateless and safe for concurrent use.
type Detector struct {
	cfg Config
}

// weightSumTolerance is how far the three method weights may drift
// from summing to exactly 1 before the config is rejected. It matches
// the YAML-level validation so a config that loads also constructs.
const weightSumTolerance = 1e-3

// NewDetector creates a detector. Zero-valued config fields fall back
// to DefaultConfig values; negative thresholds, weights that do not
// sum to 1, or a fallback floor above the ensemble floor are rejected
// with a ConfigurationError.
func NewDetector(cfg Config) (*Detector, error) {
	def := DefaultConfig()
	if cfg.ZScoreThreshold < 0 {
		return nil, &ConfigurationError{Field: "ZScoreThreshold", Reason: "must be positive"}
	}
	if cfg.ZScoreThreshold == 0 {
		cfg.ZScoreThreshold = def.ZScoreThreshold
	}
	if cfg.IQRMultiplier < 0 {
		return nil, &ConfigurationError{Field: "IQRMultiplier", Reason: "must be positive"}
	}
	if cfg.IQRMultiplier == 0 {
		cfg.IQRMultiplier = def.IQRMultiplier
	}
	if cfg.MinSamples < 0 {
		return nil, &ConfigurationError{Field: "MinSamples", Reason: "must be positive"}
	}
	if cfg.MinSamples == 0 {
		cfg.MinSamples = def.MinSamples
	}
	if cfg.MinEnsembleSamples < 0 {
		return nil, &ConfigurationError{Field: "MinEnsembleSamples", Reason: "must be positive"}
	}
	if cfg.MinEnsembleSamples == 0 {
		cfg.MinEnsembleSamples = def.MinEnsembleSamples
	}
	if cfg.MinEnsembleSamples < cfg.MinSamples {
		return nil, &ConfigurationError{Field: "MinEnsembleSamples", Reason: "must not be below MinSamples"}
	}

	switch {
	case cfg.WeightZScore == 0 && cfg.WeightIQR == 0 && cfg.WeightMultiDim == 0:
		cfg.WeightZScore = def.WeightZScore
		cfg.WeightIQR = def.WeightIQR
		cfg.WeightMultiDim = def.WeightMultiDim
	case cfg.WeightZScore < 0 || cfg.WeightIQR < 0 || cfg.WeightMultiDim < 0:
		return nil, &ConfigurationError{Field: "weights", Reason: "must not be negative"}
	case math.Abs(cfg.WeightZScore+cfg.WeightIQR+cfg.WeightMultiDim-1) > weightSumTolerance:
		return nil, &ConfigurationError{Field: "weights", Reason: "must sum to 1"}
	case cfg.WeightZScore+cfg.WeightIQR == 0:
		// The fallback blend renormalises over these two.
		return nil, &ConfigurationError{Field: "weights", Reason: "z-score and IQR weights must not both be zero"}
	}

	if cfg.DecisionThreshold < 0 {
		return nil, &ConfigurationError{Field: "DecisionThreshold", Reason: "must be positive"}
	}
	if cfg.DecisionThreshold == 0 {
		cfg.DecisionThreshold = def.DecisionThreshold
	}
	return &Detector{cfg: cfg}, nil
}

// Assess scores a candidate reading against its historical baseline.
//
// Exact-zero samples are dropped from the baseline before scoring:
// many field sensors report 0.0 as a power-on default, and keeping
// those would poison the statistics. The candidate itself is always
// assessed.
//
// Verdict paths by usable baseline size:
//   - below MinSamples: Status insufficient, no verdict
//   - below MinEnsembleSamples: z-score/IQR fallback, verdict is the
//     OR of the two flags
//   - otherwise: full ensemble, verdict is the weighted blend compared
//     against the decision threshold
func (d *Detector) Assess(value float64, at time.Time, history []Sample) Assessment {
	baseline := usableBaseline(history)

	assessment := Assessment{
		Status:      StatusScored,
		SampleCount: len(baseline),
		AssessedAt:  at,
	}

	if len(baseline) < d.cfg.MinSamples {
		assessment.Status = StatusInsufficient
		return assessment
	}

	values := make([]float64, len(baseline))
	for i, s := range baseline {
		values[i] = s.Value
	}

	zScore, zFlag := d.scoreZ(value, values)
	iqrScore, iqrFlag := d.scoreIQR(value, values)

	if len(baseline) < d.cfg.MinEnsembleSamples {
		// Fallback: the statistical methods alone decide, either
		// flagging is enough. The blend is renormalised over the two
		// evaluated methods so the stored score stays comparable.
		flagged := zFlag || iqrFlag
		score := (d.cfg.WeightZScore*zScore + d.cfg.WeightIQR*iqrScore) /
			(d.cfg.WeightZScore + d.cfg.WeightIQR)

		assessment.Anomalous = &flagged
		assessment.EnsembleScore = &score
		assessment.Fallback = true
		assessment.Methods = []MethodContribution{
			{Method: MethodZScore, Score: zScore, Flagged: zFlag, Weight: d.cfg.WeightZScore, Evaluated: true},
			{Method: MethodIQR, Score: iqrScore, Flagged: iqrFlag, Weight: d.cfg.WeightIQR, Evaluated: true},
			{Method: MethodMultiDim, Weight: d.cfg.WeightMultiDim, Evaluated: false},
		}
		return assessment
	}

	multiScore, multiFlag := d.scoreMultiDim(value, at, baseline)

	score := d.CombineScores(zScore, iqrScore, multiScore)
	flagged := score > d.cfg.DecisionThreshold

	assessment.Anomalous = &flagged
	assessment.EnsembleScore = &score
	assessment.Methods = []MethodContribution{
		{Method: MethodZScore, Score: zScore, Flagged: zFlag, Weight: d.cfg.WeightZScore, Evaluated: true},
		{Method: MethodIQR, Score: iqrScore, Flagged: iqrFlag, Weight: d.cfg.WeightIQR, Evaluated: true},
		{Method: MethodMultiDim, Score: multiScore, Flagged: multiFlag, Weight: d.cfg.WeightMultiDim, Evaluated: true},
	}
	return assessment
}

// CombineScores blends the three per-method scores into the ensemble
// score using the configured weights.
func (d *Detector) CombineScores(zScore, iqrScore, multiScore float64) float64 {
	return d.cfg.WeightZScore*zScore +
		d.cfg.WeightIQR*iqrScore +
		d.cfg.WeightMultiDim*multiScore
}

// scoreZ computes the normalised z-score contribution.
//
// The raw |z| is mapped onto [0, 1] by dividing by twice the flagging
// threshold and capping, so a reading exactly at the threshold scores 0.5.
func (d *Detector) scoreZ(value float64, values []float64) (score float64, flagged bool) {
	mean, err := stats.Mean(values)
	if err != nil {
		return 0, false
	}
	stdev, err := stats.StandardDeviationPopulation(values)
	if err != nil {
		return 0, false
	}

	if stdev == 0 {
		// Flat baseline: any deviation at all is maximally surprising.
		if value != mean {
			return 1, true
		}
		return 0, false
	}

	z := math.Abs(value-mean) / stdev
	return math.Min(z/(2*d.cfg.ZScoreThreshold), 1), z > d.cfg.ZScoreThreshold
}

// scoreIQR computes the normalised interquartile-range contribution
// (Tukey fences).
func (d *Detector) scoreIQR(value float64, values []float64) (score float64, flagged bool) {
	quartiles, err := stats.Quartile(values)
	if err != nil {
		return 0, false
	}
	median, err := stats.Median(values)
	if err != nil {
		return 0, false
	}

	iqr := quartiles.Q3 - quartiles.Q1
	if iqr == 0 {
		// Degenerate spread: fall back to equality with the median.
		if value != median {
			return 1, true
		}
		return 0, false
	}

	lower := quartiles.Q1 - d.cfg.IQRMultiplier*iqr
	upper := quartiles.Q3 + d.cfg.IQRMultiplier*iqr
	flagged = value < lower || value > upper

	// Distance from the median in IQR units, mapped onto [0, 1] so a
	// reading at the fence scores 0.5.
	dist := math.Abs(value-median) / iqr
	return math.Min(dist/(2*d.cfg.IQRMultiplier), 1), flagged
}

// scoreMultiDim computes the multi-dimensional contribution.
//
// Each observation is expanded into a feature vector of value, hour of
// day, day of week, and rate of change against the previous sample.
// Features are standardised against the baseline and the candidate's
// mean absolute feature distance d maps onto [0, 1) via d/(d+scale).
// This plays the density-isolation role in the ensemble: readings that
// are unusual jointly in magnitude, timing, or slope score high even
// when no single feature is extreme.
func (d *Detector) scoreMultiDim(value float64, at time.Time, baseline []Sample) (score float64, flagged bool) {
	features := make([][4]float64, len(baseline))
	for i, s := range baseline {
		var delta float64
		if i > 0 {
			delta = s.Value - baseline[i-1].Value
		}
		features[i] = featureVector(s.Value, s.At, delta)
	}

	candidateDelta := value - baseline[len(baseline)-1].Value
	candidate := featureVector(value, at, candidateDelta)

	var total float64
	var evaluated int
	for f := 0; f < 4; f++ {
		column := make([]float64, len(features))
		for i := range features {
			column[i] = features[i][f]
		}

		mean, err := stats.Mean(column)
		if err != nil {
			continue
		}
		stdev, err := stats.StandardDeviationPopulation(column)
		if err != nil || stdev == 0 {
			// Constant feature carries no information.
			continue
		}

		total += math.Abs(candidate[f]-mean) / stdev
		evaluated++
	}

	if evaluated == 0 {
		return 0, false
	}

	dist := total / float64(evaluated)
	score = dist / (dist + multiDimScale)
	return score, score > 0.5
}

// featureVector builds the four-feature observation used by scoreMultiDim.
func featureVector(value float64, at time.Time, delta float64) [4]float64 {
	return [4]float64{
		value,
		float64(at.Hour()),
		float64(at.Weekday()),
		delta,
	}
}

// usableBaseline drops exact-zero samples and returns the remainder
// sorted by time ascending.
func usableBaseline(history []Sample) []Sample {
	baseline := make([]Sample, 0, len(history))
	for _, s := range history {
		if s.Value == 0 {
			continue
		}
		baseline = append(baseline, s)
	}
	sort.Slice(baseline, func(i, j int) bool {
		return baseline[i].At.Before(baseline[j].At)
	})
	return baseline
}
