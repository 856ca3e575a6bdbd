// Package anomaly scores collected readings against per-point
// historical baselines.
//
// Three methods contribute to an ensemble verdict:
//
//   - z-score: distance from the baseline mean in standard deviations
//   - IQR: Tukey fences around the interquartile range
//   - multi-dimensional: standardised feature distance over value,
//     hour of day, day of week, and rate of change
//
// The ensemble blends the normalised method scores by weight and
// compares the result against a decision threshold. Small baselines
// degrade gracefully: below the ensemble minimum the two statistical
// methods decide alone, and below the absolute minimum no verdict is
// produced at all.
//
// The detector is pure computation with no I/O. Callers load the
// baseline window and persist the resulting Assessment.
package anomaly
