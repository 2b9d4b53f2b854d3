package registration

import (
	"fmt"
	"math"

	"github.com/kwv/rigidreg/geom"
)

// Quality is the assessed quality of a registration.
type Quality string

const (
	QualityExcellent Quality = "excellent"
	QualityGood      Quality = "good"
	QualityFair      Quality = "fair" // usable but consider registering again
	QualityPoor      Quality = "poor" // register again
	QualityUnknown   Quality = "unknown"
)

// ValidationTolerance is the tolerance of the rotation checks in Validate.
const ValidationTolerance = 0.01

// QualityThresholds are RMS upper bounds, in the units of the registered
// points, for each quality grade.
type QualityThresholds struct {
	Excellent float64 `yaml:"excellent" json:"excellent"`
	Good      float64 `yaml:"good" json:"good"`
	Fair      float64 `yaml:"fair" json:"fair"`
}

// DefaultQualityThresholds suits millimetre data.
func DefaultQualityThresholds() QualityThresholds {
	return QualityThresholds{Excellent: 0.5, Good: 1.5, Fair: 3}
}

// Grade maps an RMS to a quality; a negative RMS is unknown.
func (q QualityThresholds) Grade(rms float64) Quality {
	switch {
	case rms < 0 || math.IsNaN(rms):
		return QualityUnknown
	case rms < q.Excellent:
		return QualityExcellent
	case rms < q.Good:
		return QualityGood
	case rms < q.Fair:
		return QualityFair
	default:
		return QualityPoor
	}
}

// Grade uses DefaultQualityThresholds.
func Grade(rms float64) Quality {
	return DefaultQualityThresholds().Grade(rms)
}

// ValidationResult contains the result of Validate.
type ValidationResult struct {
	Valid   bool     `json:"valid"`
	Quality Quality  `json:"quality"`
	Issues  []string `json:"issues"`
}

// Validate checks the matrix of t and grades its RMS with q.
func (q QualityThresholds) Validate(t RigidTransform) ValidationResult {
	result := ValidationResult{Quality: QualityUnknown, Issues: make([]string, 0)}

	r := t.Rotation()
	if !r.Mul(r.Transpose()).ApproxEqual(geom.Identity3(), ValidationTolerance) {
		result.Issues = append(result.Issues, "rotation block is not orthonormal")
	}
	if det := r.Det(); math.Abs(det-1) > ValidationTolerance {
		result.Issues = append(result.Issues, fmt.Sprintf("rotation determinant %.4g, want 1", det))
	}
	if t.M[3] != [4]float64{0, 0, 0, 1} {
		result.Issues = append(result.Issues, "homogeneous row is not [0 0 0 1]")
	}
	if len(result.Issues) > 0 {
		result.Quality = QualityPoor
		return result
	}

	result.Quality = q.Grade(t.RMS)
	switch result.Quality {
	case QualityUnknown:
		result.Issues = append(result.Issues, "RMS not computed - quality unknown")
	case QualityFair:
		result.Issues = append(result.Issues, "registration quality is fair")
	case QualityPoor:
		result.Issues = append(result.Issues, "registration quality is poor")
	}
	result.Valid = result.Quality != QualityPoor
	return result
}

// Validate uses DefaultQualityThresholds.
func Validate(t RigidTransform) ValidationResult {
	return DefaultQualityThresholds().Validate(t)
}
