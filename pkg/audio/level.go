package audio

import "math"

// DefaultFFTSize is the analysis window used for level metering.
const DefaultFFTSize = 256

// LevelFromBins converts frequency-bin magnitudes (0–255 each) into a meter
// level in [0, 100]: the RMS over all bins, relative to a half-scale
// magnitude of 128. An empty slice yields 0.
func LevelFromBins(bins []byte) float64 {
	if len(bins) == 0 {
		return 0
	}
	var sum float64
	for _, b := range bins {
		v := float64(b)
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(bins)))
	return math.Min(100, rms/128*100)
}
