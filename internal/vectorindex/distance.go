package vectorindex

import "math"

// Norm returns the L2 norm of a vector.
func Norm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}

// CosineSimilarity computes dot(a,b) / (|a| * |b|). aNorm is the precomputed
// L2 norm of a. Mismatched lengths and zero vectors score 0.
func CosineSimilarity(a, b []float32, aNorm float64) float64 {
	if len(a) != len(b) || aNorm == 0 {
		return 0
	}
	var dot, bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	if bNormSq == 0 {
		return 0
	}
	return dot / (aNorm * math.Sqrt(bNormSq))
}

// Distance returns the distance between a and b under metric, following the
// conventions of common vector stores: cosine is 1 - cos, l2 is the squared
// Euclidean distance and ip is 1 - dot. Unknown metrics fall back to cosine.
func Distance(metric string, a, b []float32, aNorm float64) float64 {
	switch metric {
	case MetricL2:
		if len(a) != len(b) {
			return math.Inf(1)
		}
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return sum
	case MetricIP:
		if len(a) != len(b) {
			return math.Inf(1)
		}
		var dot float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
		}
		return 1 - dot
	default:
		return 1 - CosineSimilarity(a, b, aNorm)
	}
}

// ValidMetric reports whether m names a supported metric.
func ValidMetric(m string) bool {
	switch m {
	case MetricCosine, MetricL2, MetricIP:
		return true
	}
	return false
}
