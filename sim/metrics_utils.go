package sim

import (
	"bufio"
	"fmt"
	"os"
	"sort"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
)

type IntOrFloat64 interface {
	int | int64 | uint64 | float64
}

// Distribution summarizes a sample.
type Distribution struct {
	Count int     `yaml:"count"`
	Mean  float64 `yaml:"mean"`
	P50   float64 `yaml:"p50"`
	P90   float64 `yaml:"p90"`
	P99   float64 `yaml:"p99"`
	Max   float64 `yaml:"max"`
}

// Summarize computes the mean and empirical quantiles of data. Empty input gives zeros.
func Summarize[T IntOrFloat64](data []T) Distribution {
	if len(data) == 0 {
		return Distribution{}
	}
	sorted := make([]float64, len(data))
	for i, v := range data {
		sorted[i] = float64(v)
	}
	sort.Float64s(sorted)
	return Distribution{
		Count: len(sorted),
		Mean:  stat.Mean(sorted, nil),
		P50:   stat.Quantile(0.50, stat.Empirical, sorted, nil),
		P90:   stat.Quantile(0.90, stat.Empirical, sorted, nil),
		P99:   stat.Quantile(0.99, stat.Empirical, sorted, nil),
		Max:   sorted[len(sorted)-1],
	}
}

// SaveSeries writes one value per line.
func SaveSeries[T IntOrFloat64](data []T, fileName string) {
	file, err := os.OpenFile(fileName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		logrus.Fatalf("Error opening file %s: %v", fileName, err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, v := range data {
		if _, err := fmt.Fprintln(writer, v); err != nil {
			logrus.Fatalf("Error writing to file %s: %v", fileName, err)
		}
	}
	if err := writer.Flush(); err != nil {
		logrus.Fatalf("Error flushing file %s: %v", fileName, err)
	}
}
