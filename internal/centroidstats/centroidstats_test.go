package centroidstats

import (
	"math"
	"testing"

	"github.com/photoncontrols/skywalker/internal/utils"
)

func TestSummariseBurst(t *testing.T) {
	data := []float64{650, 651, 652, 653, 654}
	actual := Summarise(data)
	expected := Summary{
		Size:      5,
		Mean:      652,
		Variance:  2.5,
		Skewness:  0,
		Quartiles: [5]float64{650, 651, 652, 653, 654},
	}
	if !actual.Equals(expected, 1e-9) {
		t.Errorf("Expected summary: %v\nactual summary: %v\n", expected, actual)
	}
}

func TestSummarisePair(t *testing.T) {
	data := []float64{695.5, 696.5}
	actual := Summarise(data)
	nan := math.NaN()
	expected := Summary{
		Size:      2,
		Mean:      696,
		Variance:  0.5,
		Skewness:  nan,
		Quartiles: [5]float64{695.5, 695.5, 696, 696.5, 696.5},
	}
	if !actual.Equals(expected, 1e-9) {
		t.Errorf("Expected summary: %v\nactual summary: %v\n", expected, actual)
	}
}

func TestSummariseEmpty(t *testing.T) {
	actual := Summarise(nil)
	if !actual.Equals(NoData(), 1e-9) {
		t.Errorf("Expected summary: %v\nactual summary: %v\n", NoData(), actual)
	}
}

func TestSummariseSingle(t *testing.T) {
	actual := Summarise([]float64{696.25})
	nan := math.NaN()
	expected := Summary{
		Size:      1,
		Mean:      696.25,
		Variance:  nan,
		Skewness:  nan,
		Quartiles: [5]float64{696.25, 696.25, 696.25, 696.25, 696.25},
	}
	if !actual.Equals(expected, 1e-9) {
		t.Errorf("Expected summary: %v\nactual summary: %v\n", expected, actual)
	}
}

func TestStdErr(t *testing.T) {
	s := Summarise([]float64{650, 651, 652, 653, 654})
	if got := s.Std(); !utils.FloatEquals(got, 1.5811388300841898, 1e-12) {
		t.Errorf("Std() = %v; want sqrt(2.5)", got)
	}
	if got := s.StdErr(); !utils.FloatEquals(got, 0.7071067811865476, 1e-12) {
		t.Errorf("StdErr() = %v; want sqrt(0.5)", got)
	}
	if got := NoData().StdErr(); !math.IsNaN(got) {
		t.Errorf("StdErr() of empty sample = %v; want NaN", got)
	}
}

func TestReplaceNaNs(t *testing.T) {
	s := Summarise([]float64{696.25}).ReplaceNaNs(0)
	if s.Variance != 0 || s.Skewness != 0 {
		t.Errorf("ReplaceNaNs(0) left %v", s)
	}
	if s.Mean != 696.25 || s.Quartiles[2] != 696.25 {
		t.Errorf("ReplaceNaNs(0) clobbered real values: %v", s)
	}
}

func TestMedian(t *testing.T) {
	if got := Median([]float64{3, 1, 2}); got != 2 {
		t.Errorf("Median() = %v; want 2", got)
	}
	if got := Median([]float64{4, 1, 3, 2}); got != 2.5 {
		t.Errorf("Median() = %v; want 2.5", got)
	}
	if got := Median(nil); !math.IsNaN(got) {
		t.Errorf("Median() of empty sample = %v; want NaN", got)
	}
}

func TestMAD(t *testing.T) {
	if got := MAD([]float64{650, 651, 652, 653, 654}); got != 1 {
		t.Errorf("MAD() = %v; want 1", got)
	}
	// A single wild read barely moves the MAD.
	if got := MAD([]float64{650, 651, 652, 653, 654, 900}); got != 1.5 {
		t.Errorf("MAD() with outlier = %v; want 1.5", got)
	}
}

func TestFilterOutliers(t *testing.T) {
	data := []float64{650, 651, 652, 653, 654, 900}
	kept := FilterOutliers(data, 3)
	if len(kept) != 5 {
		t.Fatalf("FilterOutliers() kept %d samples; want 5", len(kept))
	}
	for _, x := range kept {
		if x == 900 {
			t.Error("FilterOutliers() kept the wild read")
		}
	}

	// Zero spread: everything passes.
	steady := []float64{696, 696, 696}
	if kept := FilterOutliers(steady, 3); len(kept) != 3 {
		t.Errorf("FilterOutliers() on steady sample kept %d; want 3", len(kept))
	}
}
