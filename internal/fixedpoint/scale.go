// Package fixedpoint implements the scaling policy that lets floating-point
// statistics computed in user space be evaluated inside the integer-only
// data plane (spec §4.A).
//
// Two independent scalers exist: m_scale for means and centroid coordinates,
// s_scale for standard deviations. The composite centroid scaler c_scale =
// m_scale / s_scale is used whenever a standardized feature is translated
// into the data plane's integer space.
//
// A single conversion type, Scale, pairs a raw factor with the method used
// to apply it, so callers can never accidentally multiply by the wrong
// scaler's factor.
package fixedpoint

import (
	"fmt"
	"math"
)

// Method selects how a Scale's factor is derived and applied.
type Method string

const (
	// Exponent applies factor = 10^K.
	Exponent Method = "exponent"
	// Bitshift applies factor = 1 << K.
	Bitshift Method = "bitshift"
)

// DefaultMScale and DefaultSScale are the spec §4.A defaults.
const (
	DefaultMScale = 10
	DefaultSScale = 6
)

// Scale pairs an exponent/shift K with the Method used to turn it into a
// multiplicative factor. It is the unit of currency crossing the user→kernel
// boundary: every floating value is emitted as round(x * Factor()).
type Scale struct {
	K      int
	Method Method
}

// NewScale validates method and constructs a Scale.
func NewScale(method Method, k int) (Scale, error) {
	switch method {
	case Exponent, Bitshift:
	default:
		return Scale{}, fmt.Errorf("fixedpoint: unknown scale_method %q", method)
	}
	if k < 0 {
		return Scale{}, fmt.Errorf("fixedpoint: scale exponent must be >= 0, got %d", k)
	}
	return Scale{K: k, Method: method}, nil
}

// Factor returns the multiplicative factor represented by this Scale.
func (s Scale) Factor() float64 {
	switch s.Method {
	case Bitshift:
		return float64(uint64(1) << uint(s.K))
	default: // Exponent
		return math.Pow(10, float64(s.K))
	}
}

// ToUnsigned encodes x as round(x * Factor()) in a uint64. Used for means
// and standard deviations — quantities that the data plane never needs to
// see as negative. Cluster thresholds are scaled by c_scale instead (see
// detector.Publish).
func (s Scale) ToUnsigned(x float64) uint64 {
	return uint64(math.Round(x * s.Factor()))
}

// ToSigned encodes x as round(x * Factor()) in an int64, for values that may
// be negative. Centroid L1 sums are not encoded with it: detector.Publish
// scales them by c_scale and rounds with detector.RoundSigned.
func (s Scale) ToSigned(x float64) int64 {
	return int64(math.Round(x * s.Factor()))
}

// FromUnsigned is the inverse of ToUnsigned: v / Factor().
func (s Scale) FromUnsigned(v uint64) float64 {
	return float64(v) / s.Factor()
}

// FromSigned is the inverse of ToSigned: v / Factor().
func (s Scale) FromSigned(v int64) float64 {
	return float64(v) / s.Factor()
}

// CentroidScale computes c_scale = m_scale / s_scale per spec §4.A, as a
// plain float64 multiplier (not itself a Scale — it composes two factors,
// not a single exponent/shift).
func CentroidScale(m, s Scale) float64 {
	sf := s.Factor()
	if sf == 0 {
		return 0
	}
	return m.Factor() / sf
}

// MSCALEText renders the template-rewriter's splice for a $MSCALE(expr)
// occurrence: "(expr) * N " for Exponent (N = the integer factor 10^K), or
// "(expr) << N " for Bitshift (N = the shift count K itself — the data
// plane shifts, it does not multiply by a precomputed power of two).
// Kept here (rather than in the template package) so the policy that
// decides the multiplier text lives next to the policy that decides the
// numeric factor.
func (s Scale) MSCALEText(expr string) string {
	switch s.Method {
	case Bitshift:
		return fmt.Sprintf("(%s) << %d ", expr, s.K)
	default:
		return fmt.Sprintf("(%s) * %d ", expr, int64(s.Factor()))
	}
}
