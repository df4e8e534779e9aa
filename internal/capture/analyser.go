package capture

// analyser keeps the most recent window of time-domain samples from the stream.
type analyser struct {
	buf    []int16
	next   int
	filled bool
}

func newAnalyser(size int) *analyser {
	if size <= 0 {
		size = DefaultFFTSize
	}
	return &analyser{buf: make([]int16, size)}
}

func (a *analyser) push(pcm []int16) {
	if a.buf == nil {
		return
	}
	if len(pcm) >= len(a.buf) {
		copy(a.buf, pcm[len(pcm)-len(a.buf):])
		a.next = 0
		a.filled = true
		return
	}
	for len(pcm) > 0 {
		n := copy(a.buf[a.next:], pcm)
		pcm = pcm[n:]
		a.next += n
		if a.next == len(a.buf) {
			a.next = 0
			a.filled = true
		}
	}
}

// window returns the buffered samples; order is irrelevant for the level measure.
func (a *analyser) window() []int16 {
	if a.filled {
		return a.buf
	}
	return a.buf[:a.next]
}

func (a *analyser) level() float64 {
	return Level(a.window())
}

func (a *analyser) close() {
	a.buf = nil
	a.next = 0
	a.filled = false
}

func (a *analyser) closed() bool { return a.buf == nil }

// Level is the mean absolute deviation of signed PCM16 samples from their center
// value (zero), normalized to [0,1]. An empty window reads as silence.
func Level(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum int64
	for _, v := range samples {
		if v < 0 {
			sum -= int64(v)
		} else {
			sum += int64(v)
		}
	}
	return float64(sum) / float64(len(samples)) / 32768
}
