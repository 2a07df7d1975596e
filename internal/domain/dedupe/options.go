package dedupe

// Option applies a configuration option to the deduper.
type Option func(*fingerprintSet)

// WithMaxSize sets how many fingerprints are remembered. When maxSize > 0
// the oldest fingerprint is evicted first; maxSize <= 0 remembers every
// fingerprint until Reset.
func WithMaxSize(maxSize int) Option {
	return func(d *fingerprintSet) {
		d.maxSize = maxSize
	}
}
