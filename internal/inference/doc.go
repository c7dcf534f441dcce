// Package inference owns the iterative grid-refinement estimator that infers
// a breath sample's gas composition from sensor-array mass readings.
//
// Responsibilities: forward-model prediction, truncated-normal likelihood
// scoring, joint probability aggregation, top-fraction filtering with local
// subdivision, and per-gas convergence tracking.
// Key types: Engine, CandidateSet, PMFTable, ConvergenceState, CycleRecord.
//
// Dependency rule: inference depends only on gas, sensor and monitoring.
// No file, database or plotting code is allowed in this package; callers
// persist and render Result after Run returns.
package inference
