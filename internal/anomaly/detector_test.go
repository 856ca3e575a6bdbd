package anomaly

import (
	"errors"
	"math"
	"testing"
	"time"
)

// baseTime anchors synthetic sample timestamps.
var baseTime = time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)

func mustDetector(t *testing.T, cfg Config) *Detector {
	t.Helper()
	d, err := NewDetector(cfg)
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	return d
}

// makeSamples builds hourly samples from the given values.
func makeSamples(values ...float64) []Sample {
	samples := make([]Sample, len(values))
	for i, v := range values {
		samples[i] = Sample{Value: v, At: baseTime.Add(time.Duration(i) * time.Hour)}
	}
	return samples
}

func TestDetector_CombineScores(t *testing.T) {
	d := mustDetector(t, DefaultConfig())

	got := d.CombineScores(0.9, 0.3, 0.6)
	want := 0.63

	if math.Abs(got-want) > 1e-9 {
		t.Errorf("CombineScores(0.9, 0.3, 0.6) = %v, want %v", got, want)
	}
}

func TestDetector_InsufficientBaseline(t *testing.T) {
	d := mustDetector(t, DefaultConfig())

	history := makeSamples(20.0, 20.1, 19.9, 20.0)
	assessment := d.Assess(25.0, baseTime.Add(5*time.Hour), history)

	if assessment.Status != StatusInsufficient {
		t.Errorf("Status = %q, want %q", assessment.Status, StatusInsufficient)
	}
	if assessment.Anomalous != nil {
		t.Errorf("Anomalous = %v, want nil", *assessment.Anomalous)
	}
	if assessment.EnsembleScore != nil {
		t.Errorf("EnsembleScore = %v, want nil", *assessment.EnsembleScore)
	}
	if assessment.SampleCount != 4 {
		t.Errorf("SampleCount = %d, want 4", assessment.SampleCount)
	}
}

func TestDetector_ZeroSamplesExcludedFromBaseline(t *testing.T) {
	d := mustDetector(t, DefaultConfig())

	// Six raw samples, but two are power-on zeros: only four usable.
	history := makeSamples(20.0, 0.0, 20.1, 19.9, 0.0, 20.0)
	assessment := d.Assess(25.0, baseTime.Add(7*time.Hour), history)

	if assessment.Status != StatusInsufficient {
		t.Errorf("Status = %q, want %q (zeros must not count toward the baseline)",
			assessment.Status, StatusInsufficient)
	}
	if assessment.SampleCount != 4 {
		t.Errorf("SampleCount = %d, want 4", assessment.SampleCount)
	}
}

func TestDetector_FallbackFlagsObviousSpike(t *testing.T) {
	d := mustDetector(t, DefaultConfig())

	history := makeSamples(20.0, 20.1, 19.9, 20.0, 20.2)
	assessment := d.Assess(45.0, baseTime.Add(6*time.Hour), history)

	if assessment.Status != StatusScored {
		t.Fatalf("Status = %q, want %q", assessment.Status, StatusScored)
	}
	if !assessment.Fallback {
		t.Error("Fallback = false, want true for a 5-sample baseline")
	}
	if assessment.Anomalous == nil || !*assessment.Anomalous {
		t.Error("Anomalous = false or nil, want true for a 45.0 reading against a ~20.0 baseline")
	}

	// The multi-dimensional method must be present but unevaluated.
	var multi *MethodContribution
	for i := range assessment.Methods {
		if assessment.Methods[i].Method == MethodMultiDim {
			multi = &assessment.Methods[i]
		}
	}
	if multi == nil {
		t.Fatal("missing multidim contribution in fallback assessment")
	}
	if multi.Evaluated {
		t.Error("multidim Evaluated = true, want false in fallback mode")
	}
}

func TestDetector_FallbackAcceptsNormalReading(t *testing.T) {
	d := mustDetector(t, DefaultConfig())

	history := makeSamples(20.0, 20.1, 19.9, 20.0, 20.2)
	assessment := d.Assess(20.1, baseTime.Add(6*time.Hour), history)

	if assessment.Status != StatusScored {
		t.Fatalf("Status = %q, want %q", assessment.Status, StatusScored)
	}
	if assessment.Anomalous == nil || *assessment.Anomalous {
		t.Error("Anomalous = true or nil, want false for an in-range reading")
	}
}

// ensembleBaseline builds a 24-sample hourly baseline hovering around 20.
func ensembleBaseline() []Sample {
	pattern := []float64{20.0, 20.1, 19.9, 20.2, 19.8, 20.0}
	values := make([]float64, 0, 24)
	for len(values) < 24 {
		values = append(values, pattern[len(values)%len(pattern)])
	}
	return makeSamples(values...)
}

func TestDetector_EnsembleFlagsSpike(t *testing.T) {
	d := mustDetector(t, DefaultConfig())

	history := ensembleBaseline()
	assessment := d.Assess(45.0, baseTime.Add(25*time.Hour), history)

	if assessment.Status != StatusScored {
		t.Fatalf("Status = %q, want %q", assessment.Status, StatusScored)
	}
	if assessment.Fallback {
		t.Error("Fallback = true, want false for a 24-sample baseline")
	}
	if assessment.Anomalous == nil || !*assessment.Anomalous {
		t.Error("Anomalous = false or nil, want true for a 45.0 reading")
	}
	if len(assessment.Methods) != 3 {
		t.Fatalf("len(Methods) = %d, want 3", len(assessment.Methods))
	}
	for _, m := range assessment.Methods {
		if !m.Evaluated {
			t.Errorf("method %s Evaluated = false, want true in full ensemble", m.Method)
		}
	}
	if assessment.EnsembleScore == nil || *assessment.EnsembleScore <= 0.5 {
		t.Errorf("EnsembleScore = %v, want > 0.5", assessment.EnsembleScore)
	}
}

func TestDetector_EnsembleAcceptsNormalReading(t *testing.T) {
	d := mustDetector(t, DefaultConfig())

	history := ensembleBaseline()
	assessment := d.Assess(20.0, baseTime.Add(25*time.Hour), history)

	if assessment.Status != StatusScored {
		t.Fatalf("Status = %q, want %q", assessment.Status, StatusScored)
	}
	if assessment.Anomalous == nil || *assessment.Anomalous {
		t.Error("Anomalous = true or nil, want false for an in-range reading")
	}
}

func TestDetector_FlatBaseline(t *testing.T) {
	d := mustDetector(t, DefaultConfig())

	history := makeSamples(21.5, 21.5, 21.5, 21.5, 21.5, 21.5)

	t.Run("identical reading passes", func(t *testing.T) {
		assessment := d.Assess(21.5, baseTime.Add(7*time.Hour), history)
		if assessment.Anomalous == nil || *assessment.Anomalous {
			t.Error("Anomalous = true or nil, want false when reading matches a flat baseline")
		}
	})

	t.Run("any deviation flags", func(t *testing.T) {
		assessment := d.Assess(22.0, baseTime.Add(7*time.Hour), history)
		if assessment.Anomalous == nil || !*assessment.Anomalous {
			t.Error("Anomalous = false or nil, want true for deviation from a flat baseline")
		}
	})
}

func TestDetector_ZScoreNormalisation(t *testing.T) {
	d := mustDetector(t, DefaultConfig())

	// Baseline [20.0, 20.1, 19.9, 20.0, 20.2]: mean 20.04,
	// population stddev ~0.1020. A 45.0 reading sits hundreds of
	// deviations out, so the normalised score must saturate at 1.
	values := []float64{20.0, 20.1, 19.9, 20.0, 20.2}
	score, flagged := d.scoreZ(45.0, values)

	if !flagged {
		t.Error("scoreZ flagged = false, want true")
	}
	if score != 1.0 {
		t.Errorf("scoreZ score = %v, want saturated 1.0", score)
	}
}

func TestDetector_AssessmentIsDeterministic(t *testing.T) {
	d := mustDetector(t, DefaultConfig())
	history := ensembleBaseline()
	at := baseTime.Add(25 * time.Hour)

	first := d.Assess(23.0, at, history)
	second := d.Assess(23.0, at, history)

	if first.EnsembleScore == nil || second.EnsembleScore == nil {
		t.Fatal("expected scored assessments")
	}
	if *first.EnsembleScore != *second.EnsembleScore {
		t.Errorf("scores differ across runs: %v vs %v", *first.EnsembleScore, *second.EnsembleScore)
	}
}

func TestNewDetector_ZeroConfigUsesDefaults(t *testing.T) {
	d := mustDetector(t, Config{})

	if d.cfg.ZScoreThreshold != 2.5 {
		t.Errorf("ZScoreThreshold = %v, want 2.5", d.cfg.ZScoreThreshold)
	}
	if d.cfg.MinEnsembleSamples != 20 {
		t.Errorf("MinEnsembleSamples = %d, want 20", d.cfg.MinEnsembleSamples)
	}
	if got := d.CombineScores(1, 1, 1); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("CombineScores(1,1,1) = %v, want 1.0 with default weights", got)
	}
}

func TestNewDetector_RejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"negative z threshold", Config{ZScoreThreshold: -1}},
		{"negative iqr multiplier", Config{IQRMultiplier: -0.5}},
		{"negative min samples", Config{MinSamples: -5}},
		{"ensemble floor below min samples", Config{MinSamples: 30, MinEnsembleSamples: 10}},
		{"negative weight", Config{WeightZScore: -0.4, WeightIQR: 0.7, WeightMultiDim: 0.7}},
		{"weights not summing to 1", Config{WeightZScore: 0.9, WeightIQR: 0.3, WeightMultiDim: 0.3}},
		{"statistical weights both zero", Config{WeightMultiDim: 1}},
		{"negative decision threshold", Config{DecisionThreshold: -0.1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDetector(tt.cfg)
			var cfgErr *ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
		})
	}
}

func TestNewDetector_AcceptsExplicitWeights(t *testing.T) {
	d := mustDetector(t, Config{WeightZScore: 0.5, WeightIQR: 0.25, WeightMultiDim: 0.25})

	if got := d.CombineScores(1, 0, 0); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("CombineScores(1,0,0) = %v, want 0.5", got)
	}
}
