package core

import "sync"

const AVG_COUNT uint8 = 30

type MetricsState struct {
	UpdateAVGCounter    uint8
	MStimes             [AVG_COUNT]float64
	MSavg               float64
	Updates             int32
	PrimitivesUploaded  int64
	InstancesUploaded   int64
	PayloadFloat4sMoved int64
	BufferResizes       int64
}

var onceMetrics sync.Once
var metricsState *MetricsState = nil

func MetricsInitialize() error {
	onceMetrics.Do(func() {
		metricsState = &MetricsState{
			MStimes: [AVG_COUNT]float64{0},
		}
	})
	return nil
}

// MetricsUpdate records the timing of one GPU scene update.
func MetricsUpdate(updateElapsedTime float64) {
	update_ms := (updateElapsedTime * 1000.0)
	metricsState.MStimes[metricsState.UpdateAVGCounter] = update_ms
	if metricsState.UpdateAVGCounter == AVG_COUNT-1 {
		for i := uint8(0); i < AVG_COUNT; i++ {
			metricsState.MSavg += metricsState.MStimes[i]
		}

		metricsState.MSavg /= float64(AVG_COUNT)
	}
	metricsState.UpdateAVGCounter++
	metricsState.UpdateAVGCounter %= AVG_COUNT

	metricsState.Updates++
}

// MetricsUploadCounts accumulates the work done by a single upload.
func MetricsUploadCounts(primitives, instances, payloadFloat4s int) {
	metricsState.PrimitivesUploaded += int64(primitives)
	metricsState.InstancesUploaded += int64(instances)
	metricsState.PayloadFloat4sMoved += int64(payloadFloat4s)
}

func MetricsBufferResized() {
	metricsState.BufferResizes++
}

func MetricsUpdateTime() float64 {
	return metricsState.MSavg
}

func MetricsTotals() (primitives, instances, payloadFloat4s, resizes int64) {
	return metricsState.PrimitivesUploaded, metricsState.InstancesUploaded,
		metricsState.PayloadFloat4sMoved, metricsState.BufferResizes
}
