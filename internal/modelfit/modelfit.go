// Package modelfit fits linear models of imager centroid against mirror
// pitch. Over the pitch ranges a walk sweeps, the transport is linear to
// well under a pixel, so a first-degree fit with a decent R-squared is a
// usable stand-in for the closed-form solver when geometry is in doubt.
package modelfit

import (
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"
)

var (
	// ErrInsufficientData is returned when the samples cannot pin a line.
	ErrInsufficientData = errors.New("not enough distinct samples to fit")

	// ErrDegenerate is returned when a model cannot be inverted.
	ErrDegenerate = errors.New("model has no pitch response")
)

// Sample is one observed (pitch, centroid) pair.
type Sample struct {
	Pitch    float64 `json:"pitch"`    // rad
	Centroid float64 `json:"centroid"` // px
}

// Model is a fitted centroid = Intercept + Slope*pitch line for one
// mirror/imager pair.
type Model struct {
	Mirror    string    `json:"mirror"`
	Imager    string    `json:"imager"`
	Slope     float64   `json:"slope"` // px per rad
	Intercept float64   `json:"intercept"`
	R2        float64   `json:"r2"`
	N         int       `json:"n"`
	FitAt     time.Time `json:"fitAt"`
}

// Fit computes the least-squares line through samples.
func Fit(mirror, imager string, samples []Sample) (Model, error) {
	if len(samples) < 2 {
		return Model{}, fmt.Errorf("%w: %d samples for %s/%s",
			ErrInsufficientData, len(samples), mirror, imager)
	}
	x := make([]float64, len(samples))
	y := make([]float64, len(samples))
	distinct := false
	for i, s := range samples {
		x[i] = s.Pitch
		y[i] = s.Centroid
		if i > 0 && s.Pitch != samples[0].Pitch {
			distinct = true
		}
	}
	if !distinct {
		return Model{}, fmt.Errorf("%w: all samples at pitch %v for %s/%s",
			ErrInsufficientData, samples[0].Pitch, mirror, imager)
	}

	intercept, slope := stat.LinearRegression(x, y, nil, false)
	r2 := stat.RSquared(x, y, nil, intercept, slope)
	return Model{
		Mirror:    mirror,
		Imager:    imager,
		Slope:     slope,
		Intercept: intercept,
		R2:        r2,
		N:         len(samples),
		FitAt:     time.Now(),
	}, nil
}

// CentroidAt predicts the centroid at a pitch.
func (m Model) CentroidAt(pitch float64) float64 {
	return m.Intercept + m.Slope*pitch
}

// PitchFor inverts the model for the pitch landing the centroid at the
// goal pixel.
func (m Model) PitchFor(centroid float64) (float64, error) {
	if m.Slope == 0 {
		return 0, fmt.Errorf("%w: %s/%s", ErrDegenerate, m.Mirror, m.Imager)
	}
	return (centroid - m.Intercept) / m.Slope, nil
}

// Trustworthy reports whether the model is backed by enough points with a
// tight enough fit to steer with.
func (m Model) Trustworthy(minPoints int, minR2 float64) bool {
	return m.N >= minPoints && m.R2 >= minR2
}
