package sample

import (
	"log"

	"github.com/itohio/goald/pkg/config"
)

// Stage transforms a stream of converted samples.
type Stage func(in <-chan Sample) <-chan Sample

// NewLogStage logs every sample as a CSV line and passes it on unchanged.
// The column header is logged once when the stage starts.
func NewLogStage(cfg config.SensorsConfig, bufSize int) Stage {
	if bufSize <= 0 {
		bufSize = 100
	}

	return func(in <-chan Sample) <-chan Sample {
		out := make(chan Sample, bufSize)

		go func() {
			defer close(out)
			log.Printf("Samples: %s", Header(cfg))
			for s := range in {
				log.Printf("Sample: %s", s)
				out <- s
			}
		}()

		return out
	}
}
