package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use it when a [Recorder] is abandoned after a failure so the producer
// goroutine can finish flushing and exit.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
