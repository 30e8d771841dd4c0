package benchutil

// Shared constants for benchmarks across packages.

// BenchmarkSeed is the default seed for reproducible benchmark data generation.
const BenchmarkSeed = 42

// BenchmarkFrames are per-segment frame counts for quick runs.
var BenchmarkFrames = []int{10, 50}

// ScalingFrames are larger frame counts for scaling runs.
// Used with XOPR_LONG_BENCH=1 environment variable.
var ScalingFrames = []int{100, 500, 1000}
