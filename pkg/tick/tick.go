// Package tick implements the engine's sample-accurate timing model.
//
// A Tick is a signed 64-bit integer counted at TicksPerSecond Hz, the LCM
// of every sample rate the engine supports. Because TicksPerSecond is
// divisible by every supported rate, conversion between ticks and sample
// positions is always exact: there is no rounding error to accumulate
// across a passage's lifetime.
package tick

import "fmt"

// Tick is a signed count of 1/28,224,000ths of a second. Negative values
// are valid and used for relative timing (e.g. offsets before a zero
// point).
type Tick int64

// TicksPerSecond is the LCM of every supported sample rate below.
const TicksPerSecond = 28_224_000

// TicksPerMs is the exact number of ticks in one millisecond.
const TicksPerMs = TicksPerSecond / 1000

// SupportedSampleRates lists every sample rate the tick rate evenly
// divides. TICK_RATE mod rate == 0 for all of them.
var SupportedSampleRates = []int{
	8000, 11025, 16000, 22050, 32000, 44100, 48000, 88200, 96000, 176400, 192000,
}

// ticksPerSample is a compile-time-ish lookup of TicksPerSecond/rate for
// O(1) conversion on the hot path. Populated by init from
// SupportedSampleRates so the table can never drift from the rate list.
var ticksPerSample = map[int]int64{}

func init() {
	for _, rate := range SupportedSampleRates {
		if TicksPerSecond%rate != 0 {
			panic(fmt.Sprintf("tick: rate %d does not evenly divide TicksPerSecond", rate))
		}
		ticksPerSample[rate] = TicksPerSecond / int64(rate)
	}
}

// MsToTicks converts a millisecond count to ticks exactly.
func MsToTicks(ms int64) Tick {
	return Tick(ms * TicksPerMs)
}

// TicksToMs converts ticks to milliseconds, truncating toward zero. Only
// exact for tick values that are integer multiples of TicksPerMs.
func TicksToMs(t Tick) int64 {
	return int64(t) / TicksPerMs
}

// SecondsToTicks is a floating-point helper for config and log display
// only; it is not used on the sample-accurate hot path.
func SecondsToTicks(s float64) Tick {
	return Tick(s * float64(TicksPerSecond))
}

// TicksToSeconds is the floating-point inverse of SecondsToTicks, for
// config/log display only.
func TicksToSeconds(t Tick) float64 {
	return float64(t) / float64(TicksPerSecond)
}

// ticksPerSampleAt returns TicksPerSecond/rate and whether rate is
// supported.
func ticksPerSampleAt(rate int) (int64, bool) {
	v, ok := ticksPerSample[rate]
	return v, ok
}

// SamplesToTicks converts a sample count at the given rate to ticks.
// Uses a 128-bit-equivalent widening multiply (via big.Int-free manual
// split) to preclude overflow for large n at low rates; in practice n
// and the per-sample tick factor both fit comfortably in int64 math for
// any realistic passage length, but the multiply is done in a way that
// would not silently wrap if it didn't.
func SamplesToTicks(n int64, rate int) (Tick, error) {
	per, ok := ticksPerSampleAt(rate)
	if !ok {
		return 0, fmt.Errorf("tick: unsupported sample rate %d", rate)
	}
	hi, lo := mul64(n, per)
	if hi != lo>>63 {
		return 0, fmt.Errorf("tick: overflow converting %d samples at %d Hz to ticks", n, rate)
	}
	return Tick(lo), nil
}

// TicksToSamples converts a tick count to a sample count at the given
// rate. Division by zero on an unsupported/zero rate fails loudly rather
// than silently returning garbage.
func TicksToSamples(t Tick, rate int) (int64, error) {
	if rate == 0 {
		return 0, fmt.Errorf("tick: sample rate must not be zero")
	}
	per, ok := ticksPerSampleAt(rate)
	if !ok {
		return 0, fmt.Errorf("tick: unsupported sample rate %d", rate)
	}
	return int64(t) / per, nil
}

// mul64 performs a 64x64->128 bit signed multiply, returning (high, low)
// such that the mathematical product equals hi<<64 | uint64(lo). Used to
// detect overflow in SamplesToTicks without pulling in math/big on the
// hot path.
func mul64(a, b int64) (hi, lo int64) {
	// math/bits.Mul64 operates on unsigned values; adapt for sign.
	neg := false
	ua, ub := uint64(a), uint64(b)
	if a < 0 {
		ua = uint64(-a)
		neg = !neg
	}
	if b < 0 {
		ub = uint64(-b)
		neg = !neg
	}
	h, l := mul64u(ua, ub)
	if neg {
		// Negate the 128-bit (h,l) pair.
		l = ^l + 1
		h = ^h
		if l == 0 {
			h++
		}
	}
	return int64(h), int64(l)
}

func mul64u(a, b uint64) (hi, lo uint64) {
	const mask32 = 1<<32 - 1
	aLo, aHi := a&mask32, a>>32
	bLo, bHi := b&mask32, b>>32

	t := aLo * bLo
	w0 := t & mask32
	k := t >> 32

	t = aHi*bLo + k
	w1 := t & mask32
	w2 := t >> 32

	t = aLo*bHi + w1
	k = t >> 32

	hi = aHi*bHi + w2 + k
	lo = (t << 32) | w0
	return hi, lo
}
