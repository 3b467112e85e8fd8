package metrics

import (
	"encoding/json"
	"math"
)

// Avg is a mean that may have no data. An invalid Avg marshals to null so
// "nothing measured" is never confused with a measured zero.
type Avg struct {
	Value float64
	Valid bool
}

// Mean returns the mean of values, invalid when values is empty.
func Mean(values []float64) Avg {
	if len(values) == 0 {
		return Avg{}
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return Avg{Value: sum / float64(len(values)), Valid: true}
}

// WeightedMean accumulates value*weight pairs. Invalid values and
// non-positive weights are skipped.
type WeightedMean struct {
	sum    float64
	weight float64
}

func (w *WeightedMean) Add(a Avg, weight int) {
	if !a.Valid || weight <= 0 {
		return
	}
	w.sum += a.Value * float64(weight)
	w.weight += float64(weight)
}

func (w WeightedMean) Avg() Avg {
	if w.weight == 0 {
		return Avg{}
	}
	return Avg{Value: w.sum / w.weight, Valid: true}
}

// Or returns the value, or def when there is no data.
func (a Avg) Or(def float64) float64 {
	if !a.Valid {
		return def
	}
	return a.Value
}

func (a Avg) MarshalJSON() ([]byte, error) {
	if !a.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(roundTo2(a.Value))
}

func (a *Avg) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*a = Avg{}
		return nil
	}
	if err := json.Unmarshal(b, &a.Value); err != nil {
		return err
	}
	a.Valid = true
	return nil
}

func roundTo1(v float64) float64 { return math.Round(v*10) / 10 }
func roundTo2(v float64) float64 { return math.Round(v*100) / 100 }
