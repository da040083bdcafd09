package detector

import "strings"

// COCO class ids the gateway cares about.
const (
	ClassPerson  = 0
	ClassBicycle = 1
	ClassCar     = 2
	ClassBus     = 5
	ClassTrain   = 6
	ClassTruck   = 7
)

var allowedClasses = map[int]string{
	ClassPerson:  "person",
	ClassBicycle: "bicycle",
	ClassCar:     "car",
	ClassBus:     "bus",
	ClassTrain:   "train",
	ClassTruck:   "truck",
}

// Filter keeps detections of allowed classes whose confidence reaches the
// threshold for their class.
type Filter struct {
	thresholds map[string]float64
	fallback   float64
}

// NewFilter builds a filter from per-class thresholds keyed by class name.
// Allowed classes without an entry use fallback.
func NewFilter(thresholds map[string]float64, fallback float64) *Filter {
	t := make(map[string]float64, len(thresholds))
	for name, v := range thresholds {
		t[strings.ToLower(name)] = v
	}
	return &Filter{thresholds: t, fallback: fallback}
}

// Threshold returns the minimum confidence for a class.
func (f *Filter) Threshold(className string) float64 {
	if v, ok := f.thresholds[strings.ToLower(className)]; ok {
		return v
	}
	return f.fallback
}

// Min returns the lowest threshold of any allowed class.
func (f *Filter) Min() float64 {
	low := f.fallback
	for _, name := range allowedClasses {
		if v := f.Threshold(name); v < low {
			low = v
		}
	}
	return low
}

// Apply returns the detections that pass the filter, in input order.
func (f *Filter) Apply(dets []Detection) []Detection {
	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		name, ok := allowedClasses[d.ClassID]
		if !ok {
			continue
		}
		if d.ClassName == "" {
			d.ClassName = name
		}
		if d.Confidence < f.Threshold(name) {
			continue
		}
		out = append(out, d)
	}
	return out
}
