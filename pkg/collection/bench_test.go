package collection

import (
	"context"
	"fmt"
	"testing"

	"github.com/thomasteisberg/xopr/pkg/benchutil"
	"github.com/thomasteisberg/xopr/pkg/discovery"
)

func BenchmarkBuild(b *testing.B) {
	for _, frames := range benchutil.FrameSizes() {
		b.Run(fmt.Sprintf("frames=%d", frames), func(b *testing.B) {
			cfg := benchutil.DefaultConfig(campaignID)
			cfg.FramesPerSegment = frames
			cfg.ExtraProducts = []string{"CSARP_layer"}
			root, _ := archive(b, cfg)
			builder := newBuilder(b, root, testOptions().WithSegmentWorkers(2))
			c := campaign(b, campaignID)

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := builder.Build(context.Background(), c); err != nil {
					b.Fatalf("Build: %v", err)
				}
			}
			b.ReportMetric(float64(cfg.SegmentsPerCampaign*frames*b.N)/b.Elapsed().Seconds(), "items/s")
		})
	}
}

// BenchmarkRun builds several campaigns through the pool. Gated because
// archive generation dominates at this size.
func BenchmarkRun(b *testing.B) {
	benchutil.SkipIfNoLongBench(b)
	ids := []string{"2016_Antarctica_DC8", "2017_Antarctica_P3", "2018_Greenland_P3", "2019_Arctic_GV"}
	cfg := benchutil.DefaultConfig(ids...)
	cfg.FramesPerSegment = 100
	root, _ := archive(b, cfg)
	builder := newBuilder(b, root, testOptions().WithNWorkers(4))
	var campaigns []discovery.Campaign
	for _, id := range ids {
		campaigns = append(campaigns, campaign(b, id))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := builder.Run(context.Background(), campaigns).Err(); err != nil {
			b.Fatalf("Run: %v", err)
		}
	}
}
