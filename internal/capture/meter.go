package capture

import (
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voicebank/pkg/audio"
)

// meter polls an [audio.Analyzer] on a fixed cadence and publishes the
// derived level. A nil *meter is valid and does nothing, which is what a
// session gets when no analyser could be attached.
type meter struct {
	analyzer audio.Analyzer
	publish  func(float64)

	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// startMeter attaches an analyser to stream and starts polling it. Failures
// are logged at debug level and yield a nil meter.
func startMeter(p audio.Platform, stream audio.InputStream, fftSize int, interval time.Duration, publish func(float64), log *slog.Logger) *meter {
	a, err := p.NewAnalyzer(stream, fftSize)
	if err != nil {
		log.Debug("level meter unavailable", "err", err)
		return nil
	}
	m := &meter{
		analyzer: a,
		publish:  publish,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	go m.loop(interval)
	return m
}

// loop owns the analyser and closes it on exit.
func (m *meter) loop(interval time.Duration) {
	defer close(m.done)
	defer func() { _ = m.analyzer.Close() }()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var bins []byte
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			select {
			case <-m.stopCh:
				return
			default:
			}
			bins = m.analyzer.FrequencyBins(bins)
			m.publish(audio.LevelFromBins(bins))
		}
	}
}

// halt asks the loop to exit without waiting for it, so it may be called
// from inside publish. Safe to call more than once and on a nil meter.
func (m *meter) halt() {
	if m == nil {
		return
	}
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// wait blocks until the loop has exited and the analyser is closed. It must
// not be called from publish.
func (m *meter) wait() {
	if m == nil {
		return
	}
	<-m.done
}
