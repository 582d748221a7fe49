// Package timing defines simulated time and clock frequencies.
package timing

import (
	"log"
	"math"
	"math/bits"
)

// VTimeInSec defines the time in the simulated space in the unit of second
type VTimeInSec = float64

// VTimeInFs is the integer time base that orders base cycles of different
// domains. One unit is one femtosecond.
type VTimeInFs uint64

// FsPerSec is the number of femtoseconds in a second.
const FsPerSec = 1_000_000_000_000_000

// InSec converts the time to seconds.
func (t VTimeInFs) InSec() VTimeInSec {
	return VTimeInSec(t) / FsPerSec
}

// Freq defines the type of frequency
type Freq float64

// Defines the unit of frequency
const (
	Hz  Freq = 1
	KHz Freq = 1e3
	MHz Freq = 1e6
	GHz Freq = 1e9
)

// Period returns the time between two consecutive ticks
func (f Freq) Period() VTimeInSec {
	if f == 0 {
		log.Panic("frequency cannot be 0")
	}

	return VTimeInSec(1.0 / f)
}

// Cycle converts a time to the number of cycles passed since time 0.
func (f Freq) Cycle(time VTimeInSec) uint64 {
	return uint64(math.Round(float64(time) * float64(f)))
}

// InGHz returns the frequency in GHz.
func (f Freq) InGHz() float64 {
	return float64(f / GHz)
}

// IsValid tells if the frequency can drive a clock. A valid frequency is
// finite and no lower than 1 Hz, the resolution of the clock arithmetic.
func (f Freq) IsValid() bool {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}

	return v > 0 && math.Round(v) >= 1
}

// MustBeValid panics if the frequency cannot drive a clock.
func (f Freq) MustBeValid() {
	if !f.IsValid() {
		log.Panicf("invalid frequency %g Hz, frequency must be positive", f)
	}
}

// InHz returns the frequency quantized to an integer number of Hz.
func (f Freq) InHz() uint64 {
	f.MustBeValid()

	return uint64(math.Round(float64(f)))
}

// CycleStart returns the time at which cycle n starts, counting from cycle 0
// at time 0, for a clock running at hz. The result is exact: the
// intermediate product is kept in 128 bits.
func CycleStart(n, hz uint64) VTimeInFs {
	if hz == 0 {
		log.Panic("frequency cannot be 0")
	}

	hi, lo := bits.Mul64(n, FsPerSec)
	if hi >= hz {
		log.Panicf("cycle %d at %d Hz overflows the time base", n, hz)
	}

	q, _ := bits.Div64(hi, lo, hz)

	return VTimeInFs(q)
}

// CeilMulDiv returns ceil(n * num / den) without intermediate overflow.
func CeilMulDiv(n, num, den uint64) uint64 {
	if den == 0 {
		log.Panic("denominator cannot be 0")
	}

	hi, lo := bits.Mul64(n, num)
	if hi >= den {
		log.Panicf("%d * %d / %d overflows", n, num, den)
	}

	q, r := bits.Div64(hi, lo, den)
	if r != 0 {
		q++
	}

	return q
}
