package mutator

// Config bounds child production (§4.5).
type Config struct {
	M                 int     // max accepted children per Mutate call
	MaxAttempts       int     // attempts budget before giving up (rejections don't count against M)
	JitterFraction    float64 // parameter_jitter: adjust within ±JitterFraction
	ThresholdFraction float64 // threshold_shift: move threshold within ±ThresholdFraction
	WindowDelta       int     // window_resize: change lookback by up to ±WindowDelta bars
}

func DefaultConfig() Config {
	return Config{
		M:                 5,
		MaxAttempts:       25,
		JitterFraction:    0.1,
		ThresholdFraction: 0.15,
		WindowDelta:       5,
	}
}
