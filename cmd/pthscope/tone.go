package main

import (
	"encoding/binary"
	"math"
	"sync"
)

// toneStream implements io.Reader for the audio player: PCM pulled on
// demand as 16-bit little-endian stereo frames. It generates a single
// sine tone, switched between a low pitch and a high pitch by the code
// the scope's playback cursor passes to Play.
type toneStream struct {
	mu         sync.Mutex
	sampleRate int
	phase      float64
	freq       float64
	playing    bool
}

const (
	tapFreq  = 220.0
	holdFreq = 440.0
)

func newToneStream(sampleRate int) *toneStream {
	return &toneStream{sampleRate: sampleRate, freq: tapFreq}
}

// Play starts tone generation: codes at or above 0x0100 select the high
// (hold) pitch and lower codes the low (tap) pitch. The engine registers a
// mod-tap's hold action as its 8-bit modifier mask, so those registers
// play the low pitch too.
func (t *toneStream) Play(code uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.playing = true
	if code >= 0x0100 {
		t.freq = holdFreq
	} else {
		t.freq = tapFreq
	}
}

func (t *toneStream) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.playing = false
}

func (t *toneStream) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	frames := len(p) / 4
	for i := 0; i < frames; i++ {
		var sample int16
		if t.playing {
			sample = int16(math.Sin(t.phase) * 8000)
			t.phase += 2 * math.Pi * t.freq / float64(t.sampleRate)
			if t.phase > 2*math.Pi {
				t.phase -= 2 * math.Pi
			}
		}
		binary.LittleEndian.PutUint16(p[i*4:], uint16(sample))
		binary.LittleEndian.PutUint16(p[i*4+2:], uint16(sample))
	}
	return frames * 4, nil
}
