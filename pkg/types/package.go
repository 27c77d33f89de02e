package types

import "fmt"

// Package describes the parcel handed to a carrier.
type Package struct {
	WeightGrams int     `json:"weight_grams"`
	LengthCM    float64 `json:"length_cm"`
	WidthCM     float64 `json:"width_cm"`
	HeightCM    float64 `json:"height_cm"`
}

// WeightKG returns the weight in kilograms, the unit most carriers quote in.
func (p Package) WeightKG() float64 {
	return float64(p.WeightGrams) / 1000
}

// WithDefaults fills a zero weight and zero dimensions.
func (p Package) WithDefaults(defaultWeightGrams int) Package {
	if p.WeightGrams <= 0 {
		p.WeightGrams = defaultWeightGrams
	}
	if p.LengthCM <= 0 {
		p.LengthCM = 10
	}
	if p.WidthCM <= 0 {
		p.WidthCM = 10
	}
	if p.HeightCM <= 0 {
		p.HeightCM = 10
	}
	return p
}

func (p Package) Validate() error {
	if p.WeightGrams <= 0 {
		return fmt.Errorf("package: weight must be positive")
	}
	if p.LengthCM < 0 || p.WidthCM < 0 || p.HeightCM < 0 {
		return fmt.Errorf("package: dimensions must not be negative")
	}
	return nil
}
