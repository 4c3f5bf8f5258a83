package signal

import (
	"math"
	"testing"
)

func almost(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func TestFitQuadRecoversCoefficients(t *testing.T) {
	// y = 2x² - 3x + 7
	values := make([]float64, 8)
	for i := range values {
		x := float64(i)
		values[i] = 2*x*x - 3*x + 7
	}

	q, err := FitQuad(values)
	if err != nil {
		t.Fatal(err)
	}
	if !almost(q.A, 2) || !almost(q.B, -3) || !almost(q.C, 7) {
		t.Errorf("got a=%v b=%v c=%v, want 2 -3 7", q.A, q.B, q.C)
	}
	if !almost(q.Curvature(), 4) {
		t.Errorf("curvature = %v, want 4", q.Curvature())
	}
	// Slope at the last point x=7: 2*2*7 - 3 = 25.
	if !almost(q.Slope(7), 25) {
		t.Errorf("slope(7) = %v, want 25", q.Slope(7))
	}
}

func TestFitQuadLinearSeries(t *testing.T) {
	q, err := FitQuad([]float64{1, 3, 5, 7, 9})
	if err != nil {
		t.Fatal(err)
	}
	if !almost(q.A, 0) || !almost(q.B, 2) || !almost(q.C, 1) {
		t.Errorf("got a=%v b=%v c=%v, want 0 2 1", q.A, q.B, q.C)
	}
}

func TestFitQuadTooShort(t *testing.T) {
	if _, err := FitQuad([]float64{1, 2}); err != ErrTooFewPoints {
		t.Fatalf("expected ErrTooFewPoints, got %v", err)
	}
}
