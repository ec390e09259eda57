package fixedpoint

import (
	"math"
	"testing"
)

func TestScale_RoundTrip(t *testing.T) {
	cases := []struct {
		method Method
		k      int
	}{
		{Exponent, 10},
		{Exponent, 3},
		{Bitshift, 6},
		{Bitshift, 10},
	}
	for _, c := range cases {
		s, err := NewScale(c.method, c.k)
		if err != nil {
			t.Fatalf("NewScale(%v, %d): %v", c.method, c.k, err)
		}
		mu, sigma := 12.3456, 2.71828
		if sigma <= 0 {
			t.Fatalf("sigma must be > 0")
		}

		gotMu := s.FromUnsigned(s.ToUnsigned(mu))
		if math.Abs(gotMu-mu) > 1/s.Factor() {
			t.Errorf("%v k=%d: mean round-trip: got %f want %f (tol %f)",
				c.method, c.k, gotMu, mu, 1/s.Factor())
		}

		gotSigma := s.FromUnsigned(s.ToUnsigned(sigma))
		if math.Abs(gotSigma-sigma) > 1/s.Factor() {
			t.Errorf("%v k=%d: stdev round-trip: got %f want %f (tol %f)",
				c.method, c.k, gotSigma, sigma, 1/s.Factor())
		}
	}
}

func TestScale_SignedRoundTrip(t *testing.T) {
	s, err := NewScale(Exponent, 10)
	if err != nil {
		t.Fatal(err)
	}
	x := -45.231
	got := s.FromSigned(s.ToSigned(x))
	if math.Abs(got-x) > 1/s.Factor() {
		t.Errorf("signed round-trip: got %f want %f", got, x)
	}
}

func TestNewScale_UnknownMethod(t *testing.T) {
	if _, err := NewScale("bogus", 1); err == nil {
		t.Fatal("expected error for unknown scale_method")
	}
}

func TestCentroidScale(t *testing.T) {
	m, _ := NewScale(Exponent, 10)
	s, _ := NewScale(Exponent, 6)
	got := CentroidScale(m, s)
	want := math.Pow(10, 10) / math.Pow(10, 6)
	if got != want {
		t.Errorf("CentroidScale = %f, want %f", got, want)
	}
}

func TestScale_MSCALEText(t *testing.T) {
	exp, _ := NewScale(Exponent, 3)
	if got, want := exp.MSCALEText("x"), "(x) * 1000 "; got != want {
		t.Errorf("MSCALEText exponent: got %q want %q", got, want)
	}
	bs, _ := NewScale(Bitshift, 10)
	if got, want := bs.MSCALEText("x"), "(x) << 10 "; got != want {
		t.Errorf("MSCALEText bitshift: got %q want %q", got, want)
	}
}
