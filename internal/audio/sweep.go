package audio

import (
	"encoding/binary"
	"math"
	"time"
)

const sweepAmplitude = 0.4

// Sweep is an endless mono signed 16-bit little-endian siren. Its pitch ramps from low to high
// and back once per period.
type Sweep struct {
	sampleRate float64
	low, high  float64
	period     float64

	n     int64
	phase float64

	// high byte of a sample split across two reads
	carry    byte
	hasCarry bool
}

func NewSweep(sampleRate int, lowHz, highHz float64, period time.Duration) *Sweep {
	return &Sweep{
		sampleRate: float64(sampleRate),
		low:        lowHz,
		high:       highHz,
		period:     period.Seconds(),
	}
}

// Frequency is the pitch at t seconds into the tone
func (s *Sweep) Frequency(t float64) float64 {
	if s.period <= 0 {
		return s.low
	}
	pos := math.Mod(t, s.period) / s.period
	ramp := 2 * pos
	if pos >= 0.5 {
		ramp = 2 - 2*pos
	}
	return s.low + (s.high-s.low)*ramp
}

// Read fills p completely. A sample cut by an odd-length buffer continues in the next read.
func (s *Sweep) Read(p []byte) (int, error) {
	i := 0
	if s.hasCarry && len(p) > 0 {
		p[0] = s.carry
		s.hasCarry = false
		i = 1
	}

	var sample [2]byte
	for i < len(p) {
		binary.LittleEndian.PutUint16(sample[:], uint16(s.sample()))
		n := copy(p[i:], sample[:])
		if n == 1 {
			s.carry, s.hasCarry = sample[1], true
		}
		i += n
	}
	return i, nil
}

func (s *Sweep) sample() int16 {
	return int16(s.next() * sweepAmplitude * math.MaxInt16)
}

func (s *Sweep) next() float64 {
	f := s.Frequency(float64(s.n) / s.sampleRate)
	s.n++
	s.phase += 2 * math.Pi * f / s.sampleRate
	if s.phase >= 2*math.Pi {
		s.phase -= 2 * math.Pi
	}
	return math.Sin(s.phase)
}
