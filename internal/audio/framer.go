package audio

import (
	"sync"
	"time"

	"github.com/therassist/session-coordinator/internal/ports"
)

// FramerConfig sizes the frames cut from a capture stream
type FramerConfig struct {
	SampleRate int // linear16 mono capture rate
	FrameMs    int
	BufferSize int // ring buffer bytes; raised to hold at least two frames
	VAD        *VADConfig
}

// Framer cuts a raw linear16 byte stream into fixed-duration frames stamped
// with their media offset. Reads from a pipe arrive in arbitrary sizes, so
// bytes are staged in a RingBuffer until a whole frame is available.
type Framer struct {
	buf        *RingBuffer
	frameBytes int
	sampleRate int
	vad        *VADDetector

	mu      sync.Mutex
	base    time.Duration
	emitted int64
}

// NewFramer creates a framer starting at offset zero
func NewFramer(cfg FramerConfig) *Framer {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.FrameMs <= 0 {
		cfg.FrameMs = 100
	}

	frameBytes := cfg.SampleRate * cfg.FrameMs / 1000 * 2
	if cfg.BufferSize < 2*frameBytes+1 {
		cfg.BufferSize = 2*frameBytes + 1
	}

	vadCfg := DefaultVADConfig()
	if cfg.VAD != nil {
		c := *cfg.VAD
		vadCfg = &c
	}
	vadCfg.FrameSize = frameBytes / 2

	return &Framer{
		buf:        NewRingBuffer(cfg.BufferSize),
		frameBytes: frameBytes,
		sampleRate: cfg.SampleRate,
		vad:        NewVADDetector(vadCfg),
	}
}

// FrameBytes returns the size of a full frame
func (f *Framer) FrameBytes() int {
	return f.frameBytes
}

// Reset drops staged bytes and restarts offsets at base
func (f *Framer) Reset(base time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.buf.Clear()
	f.vad.Reset()
	f.base = base
	f.emitted = 0
}

// Position returns the media offset just past the last emitted frame
func (f *Framer) Position() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.position()
}

func (f *Framer) position() time.Duration {
	return f.base + f.bytesToDuration(f.emitted)
}

func (f *Framer) bytesToDuration(n int64) time.Duration {
	samples := n / 2
	return time.Duration(samples) * time.Second / time.Duration(f.sampleRate)
}

// Push stages data and returns every frame completed by it
func (f *Framer) Push(data []byte) []ports.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()

	var frames []ports.Frame
	for len(data) > 0 {
		n := f.buf.Write(data)
		data = data[n:]
		for f.buf.Available() >= f.frameBytes {
			frames = append(frames, f.next(f.frameBytes))
		}
	}
	return frames
}

// Flush emits the staged partial frame, if any. Odd trailing bytes are dropped.
func (f *Framer) Flush() (ports.Frame, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := f.buf.Available() &^ 1
	if n == 0 {
		f.buf.Clear()
		return ports.Frame{}, false
	}
	frame := f.next(n)
	f.buf.Clear()
	return frame, true
}

// next must be called with mu held and at least n bytes staged
func (f *Framer) next(n int) ports.Frame {
	data := make([]byte, n)
	f.buf.Read(data)

	frame := ports.Frame{
		Data:   data,
		Offset: f.position(),
	}
	if samples, err := BytesToSamples(data); err == nil {
		frame.Speech = f.vad.Detect(samples)
	}
	f.emitted += int64(n)
	return frame
}
