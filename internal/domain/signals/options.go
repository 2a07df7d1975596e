package signals

import "time"

// Option applies a configuration option to the Engine.
type Option func(e *Engine, custom *[]Definition)

// WithSteamWindow sets how far back steam_move looks from a runner's latest
// price.
func WithSteamWindow(d time.Duration) Option {
	return func(e *Engine, _ *[]Definition) {
		if d > 0 {
			e.window = d
		}
	}
}

// WithMinShortening sets the smallest relative shortening that counts as a
// steam move.
func WithMinShortening(x float64) Option {
	return func(e *Engine, _ *[]Definition) {
		if x > 0 && x < 1 {
			e.minShortening = x
		}
	}
}

// WithDefinition appends a custom signal after the built-in ones.
func WithDefinition(d Definition) Option {
	return func(_ *Engine, custom *[]Definition) {
		if d.Name != "" && d.Compute != nil {
			*custom = append(*custom, d)
		}
	}
}
