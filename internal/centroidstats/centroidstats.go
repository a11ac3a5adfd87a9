// Package centroidstats summarises repeated centroid samples taken on one
// imager. Walks average a burst of reads per measurement; the summary keeps
// the distribution, and the MAD filter drops stray reads from dropped
// shots before averaging.
package centroidstats

import (
	"fmt"
	"math"

	"golang.org/x/exp/slices"

	"github.com/photoncontrols/skywalker/internal/utils"
)

// Summary describes a sample of centroid positions, in pixels.
type Summary struct {
	Size      int        `json:"size"`
	Mean      float64    `json:"mean"`
	Variance  float64    `json:"variance"`
	Skewness  float64    `json:"skewness"`
	Quartiles [5]float64 `json:"quartiles"`
}

// NoData returns the summary of an empty sample.
func NoData() Summary {
	nan := math.NaN()
	return Summary{
		Size:      0,
		Mean:      nan,
		Variance:  nan,
		Skewness:  nan,
		Quartiles: [5]float64{nan, nan, nan, nan, nan},
	}
}

func (s Summary) Min() float64    { return s.Quartiles[0] }
func (s Summary) Q1() float64     { return s.Quartiles[1] }
func (s Summary) Median() float64 { return s.Quartiles[2] }
func (s Summary) Q3() float64     { return s.Quartiles[3] }
func (s Summary) Max() float64    { return s.Quartiles[4] }

// Std returns the bias-corrected sample standard deviation.
func (s Summary) Std() float64 { return math.Sqrt(s.Variance) }

// StdErr returns the standard error of the mean.
func (s Summary) StdErr() float64 {
	if s.Size < 1 {
		return math.NaN()
	}
	return s.Std() / math.Sqrt(float64(s.Size))
}

func (s Summary) toFloatData() (data [8]float64) {
	data[0] = s.Mean
	data[1] = s.Variance
	data[2] = s.Skewness
	for i := 0; i < 5; i++ {
		data[i+3] = s.Quartiles[i]
	}
	return
}

func fromFloatData(size int, data [8]float64) Summary {
	return Summary{
		Size:      size,
		Mean:      data[0],
		Variance:  data[1],
		Skewness:  data[2],
		Quartiles: [5]float64{data[3], data[4], data[5], data[6], data[7]},
	}
}

func (s Summary) String() string {
	q := s.Quartiles
	return fmt.Sprintf("size: %d, mean: %f, variance: %f, skewness: %f, quartiles: [%f, %f, %f, %f, %f]",
		s.Size, s.Mean, s.Variance, s.Skewness, q[0], q[1], q[2], q[3], q[4])
}

func (s Summary) Equals(other Summary, absTol float64) bool {
	if s.Size != other.Size {
		return false
	}
	thisData := s.toFloatData()
	otherData := other.toFloatData()
	for i := 0; i < len(thisData); i++ {
		if !utils.FloatEquals(thisData[i], otherData[i], absTol) {
			return false
		}
	}
	return true
}

// ReplaceNaNs returns a copy with all NaN values replaced by r. Summaries
// of short samples carry NaNs that encoding/json refuses; persisted
// documents go through this first.
func (s Summary) ReplaceNaNs(r float64) Summary {
	data := s.toFloatData()
	for i, x := range data {
		if math.IsNaN(x) {
			data[i] = r
		}
	}
	return fromFloatData(s.Size, data)
}

func mean(sample []float64) float64 {
	if len(sample) < 1 {
		return math.NaN()
	}
	sum := 0.0
	for _, x := range sample {
		sum += x
	}
	return sum / float64(len(sample))
}

// variance is the bias-corrected sample variance; mean is the value
// returned by mean().
func variance(sample []float64, mean float64) float64 {
	if len(sample) < 2 {
		return math.NaN()
	}
	n := float64(len(sample))
	sumSquares := 0.0
	for _, x := range sample {
		d := x - mean
		sumSquares += d * d
	}
	return sumSquares / (n - 1)
}

func squareRootCubed(x float64) float64 {
	y := math.Sqrt(x)
	return y * y * y
}

// skewness is the G1 sample skewness estimator; mean and variance are the
// values returned by mean() and variance().
func skewness(sample []float64, mean, variance float64) float64 {
	if len(sample) < 3 {
		return math.NaN()
	}
	n := float64(len(sample))
	sumCubes := 0.0
	for _, x := range sample {
		d := x - mean
		sumCubes += d * d * d
	}
	return sumCubes * n / (n - 1) / (n - 2) / squareRootCubed(variance)
}

// quartile assumes sortedSample is sorted. Quartile 0 is the minimum and
// quartile 4 the maximum. Implements the 'type 2' calculation, the common
// choice for discrete data; the five quartiles of [1 2 3 4 5] come out as
// exactly 1, 2, 3, 4, 5.
func quartile(sortedSample []float64, whichQuartile int) float64 {
	if whichQuartile < 0 || whichQuartile > 4 {
		panic(fmt.Errorf("invalid quartile %d", whichQuartile))
	}
	n := len(sortedSample)
	if n == 0 {
		return math.NaN()
	}
	if whichQuartile == 0 {
		return sortedSample[0]
	}
	if whichQuartile == 4 {
		return sortedSample[n-1]
	}
	j := n * whichQuartile / 4
	if n*whichQuartile%4 == 0 && j > 0 {
		// empirical CDF discontinuous here; average with the previous value
		return (sortedSample[j-1] + sortedSample[j]) / 2.0
	}
	return sortedSample[j]
}

func quartiles(sample []float64) [5]float64 {
	nan := math.NaN()
	result := [5]float64{nan, nan, nan, nan, nan}
	if len(sample) > 0 {
		sortedSample := make([]float64, len(sample))
		copy(sortedSample, sample)
		slices.Sort(sortedSample)
		for i := 0; i <= 4; i++ {
			result[i] = quartile(sortedSample, i)
		}
	}
	return result
}

// Summarise computes the full summary of sample.
func Summarise(sample []float64) Summary {
	l := len(sample)
	m := mean(sample)
	v := variance(sample, m)
	s := skewness(sample, m, v)
	q := quartiles(sample)
	return Summary{Size: l, Mean: m, Variance: v, Skewness: s, Quartiles: q}
}

// Median returns the sample median, NaN for an empty sample.
func Median(sample []float64) float64 {
	n := len(sample)
	if n == 0 {
		return math.NaN()
	}
	sorted := make([]float64, n)
	copy(sorted, sample)
	slices.Sort(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}

// MAD returns the median absolute deviation from the sample median.
func MAD(sample []float64) float64 {
	if len(sample) == 0 {
		return math.NaN()
	}
	med := Median(sample)
	devs := make([]float64, len(sample))
	for i, x := range sample {
		devs[i] = math.Abs(x - med)
	}
	return Median(devs)
}

// FilterOutliers returns the samples within k MADs of the median. A sample
// with zero spread passes through unchanged, and a lone wild read among
// steady ones is dropped.
func FilterOutliers(sample []float64, k float64) []float64 {
	if len(sample) == 0 {
		return nil
	}
	med := Median(sample)
	mad := MAD(sample)
	kept := make([]float64, 0, len(sample))
	for _, x := range sample {
		if math.Abs(x-med) <= k*mad {
			kept = append(kept, x)
		}
	}
	return kept
}
