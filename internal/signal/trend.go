package signal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coinwatch/internal/model"
)

// ErrTooFewPoints is returned when a series is too short to fit a quadratic.
var ErrTooFewPoints = errors.New("signal: need at least 3 points for a quadratic fit")

// Quad holds the coefficients of y = a*x² + b*x + c fitted over a close
// series indexed 0..n-1.
type Quad struct {
	A, B, C float64
}

// Slope is the fitted first derivative at index x.
func (q Quad) Slope(x float64) float64 { return 2*q.A*x + q.B }

// Curvature is the fitted second derivative (constant for a quadratic).
// Positive means the series is bending upward.
func (q Quad) Curvature() float64 { return 2 * q.A }

// FitQuad fits a quadratic to the values by least squares, treating the
// index as x. Used as a cheap shape diagnostic alongside crossover flags.
func FitQuad(values []float64) (Quad, error) {
	n := len(values)
	if n < 3 {
		return Quad{}, ErrTooFewPoints
	}

	var s1, s2, s3, s4, t0, t1, t2 float64
	for i, y := range values {
		x := float64(i)
		x2 := x * x
		s1 += x
		s2 += x2
		s3 += x2 * x
		s4 += x2 * x2
		t0 += y
		t1 += x * y
		t2 += x2 * y
	}
	s0 := float64(n)

	// Solve the 3x3 normal equations by Cramer's rule.
	det := s0*(s2*s4-s3*s3) - s1*(s1*s4-s3*s2) + s2*(s1*s3-s2*s2)
	if det == 0 {
		return Quad{}, errors.New("signal: degenerate series")
	}
	detC := t0*(s2*s4-s3*s3) - s1*(t1*s4-s3*t2) + s2*(t1*s3-s2*t2)
	detB := s0*(t1*s4-t2*s3) - t0*(s1*s4-s3*s2) + s2*(s1*t2-t1*s2)
	detA := s0*(s2*t2-s3*t1) - s1*(s1*t2-s3*t0) + t0*(s1*s3-s2*s2)

	return Quad{A: detA / det, B: detB / det, C: detC / det}, nil
}

// Trend fits a quadratic over one market's recent closes and reports the
// slope at the most recent point.
type Trend struct {
	Market    string
	Points    int
	Quad      Quad
	Slope     float64
	Curvature float64
}

// TrendFor loads up to limit closes covering the given number of ticks and
// fits them.
func TrendFor(ctx context.Context, store model.Store, market string, g model.Granularity, ticks int) (Trend, error) {
	since := g.Floor(time.Now()).Add(-time.Duration(ticks) * g.Interval())
	closes, err := store.RecentCloses(ctx, market, since, ticks)
	if err != nil {
		return Trend{}, fmt.Errorf("signal: closes for %s: %w", market, err)
	}
	q, err := FitQuad(closes)
	if err != nil {
		return Trend{}, err
	}
	return Trend{
		Market:    market,
		Points:    len(closes),
		Quad:      q,
		Slope:     q.Slope(float64(len(closes) - 1)),
		Curvature: q.Curvature(),
	}, nil
}
