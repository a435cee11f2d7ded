package face

// BlinkDetector counts blinks from a per-frame EAR series with hysteresis:
// EAR must sit below Close for at least MinClosed consecutive frames and
// then rise above Open. Values between the two thresholds hold the state.
type BlinkDetector struct {
	Close     float64
	Open      float64
	MinClosed int

	closedRun int
	blinks    int
	lastRun   int
}

func NewBlinkDetector(closeEAR, openEAR float64, minClosed int) *BlinkDetector {
	if minClosed < 1 {
		minClosed = 1
	}
	return &BlinkDetector{Close: closeEAR, Open: openEAR, MinClosed: minClosed}
}

// Observe feeds one EAR value. blink is true on the frame a blink completes;
// episode is true whenever a closed run of any length ends in an open eye.
func (b *BlinkDetector) Observe(ear float64) (blink, episode bool) {
	switch {
	case ear < b.Close:
		b.closedRun++
	case ear > b.Open:
		if b.closedRun > 0 {
			b.lastRun = b.closedRun
			episode = true
			if b.closedRun >= b.MinClosed {
				b.blinks++
				blink = true
			}
		}
		b.closedRun = 0
	}
	return blink, episode
}

func (b *BlinkDetector) Blinks() int {
	return b.blinks
}

// LastRun is the closed-frame length of the most recent episode.
func (b *BlinkDetector) LastRun() int {
	return b.lastRun
}

func (b *BlinkDetector) Closed() bool {
	return b.closedRun > 0
}
