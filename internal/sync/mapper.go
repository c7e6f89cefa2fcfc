package sync

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tmaia/glucolog/internal/backend"
	"github.com/tmaia/glucolog/internal/store"
)

// Measurement units.
const (
	UnitMgdL  = "mg/dL"
	UnitMmolL = "mmol/L"
)

// Derived status classifications. Status is always recomputed from
// value+unit; it is never an independent source of truth.
const (
	StatusCriticalLow  = "critical_low"
	StatusLow          = "low"
	StatusNormal       = "normal"
	StatusHigh         = "high"
	StatusCriticalHigh = "critical_high"
)

// mgdlPerMmolL converts between the two units. The mmol/L boundaries are
// obtained by dividing the mg/dL boundaries by this factor, never
// re-derived independently, so classification agrees exactly under
// conversion.
const mgdlPerMmolL = 18.0182

// ErrInvalidValue flags a non-finite or negative glucose value. This is a
// caller bug, not an operational condition.
var ErrInvalidValue = errors.New("invalid glucose value")

// ErrInvalidUnit flags an unrecognized measurement unit.
var ErrInvalidUnit = errors.New("invalid unit")

// The backend emits timestamps as "DD/MM/YYYY HH:mm:ss" in a fixed UTC-3
// offset. Parsed with an explicit zone, never locale-dependent.
const backendTimeLayout = "02/01/2006 15:04:05"

var backendZone = time.FixedZone("UTC-3", -3*60*60)

// ComputeStatus classifies a glucose value using fixed clinical thresholds.
// For mg/dL: <54 critical-low, 54-69 low, 70-180 normal, 181-250 high,
// >250 critical-high.
func ComputeStatus(value float64, unit string) (string, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		return "", fmt.Errorf("%w: %v", ErrInvalidValue, value)
	}
	mgdl := value
	switch unit {
	case UnitMgdL:
	case UnitMmolL:
		mgdl = value * mgdlPerMmolL
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidUnit, unit)
	}

	switch {
	case mgdl < 54:
		return StatusCriticalLow, nil
	case mgdl < 70:
		return StatusLow, nil
	case mgdl <= 180:
		return StatusNormal, nil
	case mgdl <= 250:
		return StatusHigh, nil
	default:
		return StatusCriticalHigh, nil
	}
}

// ConvertUnit converts value between mg/dL and mmol/L. Identity when the
// units match. No rounding; display formatting is a presentation concern.
func ConvertUnit(value float64, from, to string) (float64, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidValue, value)
	}
	if from != UnitMgdL && from != UnitMmolL {
		return 0, fmt.Errorf("%w: %q", ErrInvalidUnit, from)
	}
	if to != UnitMgdL && to != UnitMmolL {
		return 0, fmt.Errorf("%w: %q", ErrInvalidUnit, to)
	}
	if from == to {
		return value, nil
	}
	if from == UnitMgdL {
		return value / mgdlPerMmolL, nil
	}
	return value * mgdlPerMmolL, nil
}

// ParseBackendTime parses the backend's fixed date format and normalizes
// to UTC.
func ParseBackendTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(backendTimeLayout, s, backendZone)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse backend time %q: %w", s, err)
	}
	return t.UTC(), nil
}

// FormatBackendTime renders a timestamp in the backend's expected format.
func FormatBackendTime(t time.Time) string {
	return t.In(backendZone).Format(backendTimeLayout)
}

// NewLocalID generates an id for a record captured offline. The "local_"
// prefix distinguishes local-only origin from backend-derived ids.
func NewLocalID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("local_%d_%s", now.UnixMilli(), suffix)
}

// BackendLocalID derives the deterministic local id for a backend record.
func BackendLocalID(backendID string) string {
	return "backend_" + backendID
}

// toBackendCategory maps local category codes to the backend vocabulary.
var toBackendCategory = map[string]string{
	"fasting":   "FASTING",
	"pre_meal":  "PRE_MEAL",
	"post_meal": "POST_MEAL",
	"bedtime":   "BEDTIME",
	"random":    "RANDOM",
}

var toLocalCategory = func() map[string]string {
	m := make(map[string]string, len(toBackendCategory))
	for local, remote := range toBackendCategory {
		m[remote] = local
	}
	return m
}()

// ToLocal maps a backend wire record into local form: deterministic id,
// backend id set, synced, not local-only, status recomputed. now stamps
// first local persistence.
func ToLocal(w backend.Reading, now time.Time) (*store.Reading, error) {
	measuredAt, err := ParseBackendTime(w.MeasuredAt)
	if err != nil {
		return nil, err
	}
	status, err := ComputeStatus(w.Value, w.Unit)
	if err != nil {
		return nil, err
	}
	category := toLocalCategory[w.Category]
	if category == "" {
		category = strings.ToLower(w.Category)
	}
	return &store.Reading{
		ID:            BackendLocalID(w.ID),
		BackendID:     w.ID,
		Value:         w.Value,
		Unit:          w.Unit,
		Category:      category,
		Notes:         w.Notes,
		Status:        status,
		MeasuredAt:    measuredAt.UnixMilli(),
		Synced:        true,
		IsLocalOnly:   false,
		LocalStoredAt: now.UnixMilli(),
		UpdatedAt:     now.UnixMilli(),
	}, nil
}

// ToBackendPayload strips local-only fields and maps category codes to the
// backend vocabulary.
func ToBackendPayload(r *store.Reading) backend.ReadingPayload {
	category := toBackendCategory[r.Category]
	if category == "" {
		category = strings.ToUpper(r.Category)
	}
	return backend.ReadingPayload{
		Value:      r.Value,
		Unit:       r.Unit,
		Category:   category,
		Notes:      r.Notes,
		MeasuredAt: FormatBackendTime(time.UnixMilli(r.MeasuredAt).UTC()),
	}
}

// contentEquals compares the domain fields that matter for conflict
// detection. Sync bookkeeping (ids, flags, timestamps of persistence) is
// excluded.
func contentEquals(a, b *store.Reading) bool {
	return a.Value == b.Value &&
		a.Unit == b.Unit &&
		a.Category == b.Category &&
		a.Notes == b.Notes &&
		a.MeasuredAt == b.MeasuredAt
}
