package benchutil

import (
	"os"
	"testing"
)

// SkipIfNoLongBench skips the benchmark if XOPR_LONG_BENCH is not set.
// Use this to gate long-running benchmarks that shouldn't run by default.
func SkipIfNoLongBench(b *testing.B) {
	if os.Getenv("XOPR_LONG_BENCH") == "" {
		b.Skip("set XOPR_LONG_BENCH=1 to run scaling benchmark")
	}
}

// FrameSizes returns the frame counts to benchmark, including the scaling
// set when long benchmarks are enabled.
func FrameSizes() []int {
	if os.Getenv("XOPR_LONG_BENCH") == "" {
		return BenchmarkFrames
	}
	return append(append([]int(nil), BenchmarkFrames...), ScalingFrames...)
}
