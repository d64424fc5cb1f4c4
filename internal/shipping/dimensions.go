package shipping

// minDimension is the smallest value the aggregator accepts for any side or
// for the total weight.
const minDimension = 0.5

// Parcel is one line's physical contribution to a package.
type Parcel struct {
	Length  float64
	Breadth float64
	Height  float64
	Weight  float64
	Units   int64
}

// ComputeDimensions folds per-line parcels into one package: the maximum
// length, breadth, and height across lines, the summed weight across all
// units, every component floored at 0.5 to satisfy aggregator validation.
func ComputeDimensions(parcels []Parcel) Dimensions {
	dims := Dimensions{}
	for _, p := range parcels {
		if p.Length > dims.Length {
			dims.Length = p.Length
		}
		if p.Breadth > dims.Breadth {
			dims.Breadth = p.Breadth
		}
		if p.Height > dims.Height {
			dims.Height = p.Height
		}
		units := p.Units
		if units <= 0 {
			units = 1
		}
		dims.Weight += p.Weight * float64(units)
	}

	if dims.Length < minDimension {
		dims.Length = minDimension
	}
	if dims.Breadth < minDimension {
		dims.Breadth = minDimension
	}
	if dims.Height < minDimension {
		dims.Height = minDimension
	}
	if dims.Weight < minDimension {
		dims.Weight = minDimension
	}
	return dims
}
