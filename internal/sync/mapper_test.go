package sync

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/tmaia/glucolog/internal/backend"
	"github.com/tmaia/glucolog/internal/store"
)

func TestComputeStatusBoundariesMgdl(t *testing.T) {
	tests := []struct {
		value float64
		want  string
	}{
		{53.9, StatusCriticalLow},
		{54, StatusLow},
		{69.9, StatusLow},
		{70, StatusNormal},
		{180, StatusNormal},
		{180.1, StatusHigh},
		{250, StatusHigh},
		{250.1, StatusCriticalHigh},
	}
	for _, tt := range tests {
		got, err := ComputeStatus(tt.value, UnitMgdL)
		if err != nil {
			t.Fatalf("ComputeStatus(%v) error = %v", tt.value, err)
		}
		if got != tt.want {
			t.Errorf("ComputeStatus(%v mg/dL) = %q, want %q", tt.value, got, tt.want)
		}
	}
}

// Classification in mmol/L must agree with mg/dL exactly under conversion,
// since the mmol thresholds are the mg/dL thresholds divided by the factor.
func TestComputeStatusAgreesAcrossUnits(t *testing.T) {
	for _, mgdl := range []float64{10, 50, 60, 120, 200, 300, 400} {
		mmol, err := ConvertUnit(mgdl, UnitMgdL, UnitMmolL)
		if err != nil {
			t.Fatal(err)
		}
		a, _ := ComputeStatus(mgdl, UnitMgdL)
		b, err := ComputeStatus(mmol, UnitMmolL)
		if err != nil {
			t.Fatal(err)
		}
		if a != b {
			t.Errorf("status disagrees at %v mg/dL: mg/dL=%q mmol/L=%q", mgdl, a, b)
		}
	}
}

func TestComputeStatusInvalidInputs(t *testing.T) {
	for _, v := range []float64{-1, math.NaN(), math.Inf(1)} {
		if _, err := ComputeStatus(v, UnitMgdL); err == nil {
			t.Errorf("ComputeStatus(%v) expected error", v)
		}
	}
	if _, err := ComputeStatus(100, "furlongs"); err == nil {
		t.Error("ComputeStatus with unknown unit expected error")
	}
}

func TestConvertUnitRoundTrip(t *testing.T) {
	mmol, err := ConvertUnit(120, UnitMgdL, UnitMmolL)
	if err != nil {
		t.Fatal(err)
	}
	back, err := ConvertUnit(mmol, UnitMmolL, UnitMgdL)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(back-120) > 0.5 {
		t.Errorf("round trip 120 -> %v -> %v, drift > 0.5", mmol, back)
	}
}

func TestConvertUnitIdentity(t *testing.T) {
	got, err := ConvertUnit(7.5, UnitMmolL, UnitMmolL)
	if err != nil {
		t.Fatal(err)
	}
	if got != 7.5 {
		t.Errorf("identity conversion = %v, want 7.5", got)
	}
}

func TestParseBackendTimeNormalizesToUTC(t *testing.T) {
	// 08:30 at UTC-3 is 11:30 UTC.
	got, err := ParseBackendTime("15/03/2024 08:30:00")
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2024, 3, 15, 11, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("parsed = %v, want %v", got, want)
	}
	if got.Location() != time.UTC {
		t.Errorf("location = %v, want UTC", got.Location())
	}
}

func TestParseBackendTimeRejectsOtherFormats(t *testing.T) {
	for _, s := range []string{"2024-03-15 08:30:00", "15/03/2024", "03/15/2024 08:30:00pm"} {
		if _, err := ParseBackendTime(s); err == nil {
			t.Errorf("ParseBackendTime(%q) expected error", s)
		}
	}
}

func TestToLocalMapsWireRecord(t *testing.T) {
	now := time.Now()
	r, err := ToLocal(backend.Reading{
		ID:         "42",
		Value:      150,
		Unit:       UnitMgdL,
		Category:   "POST_MEAL",
		Notes:      "lunch",
		MeasuredAt: "15/03/2024 08:30:00",
	}, now)
	if err != nil {
		t.Fatal(err)
	}

	if r.ID != "backend_42" {
		t.Errorf("id = %q, want backend_42", r.ID)
	}
	if r.BackendID != "42" {
		t.Errorf("backendID = %q, want 42", r.BackendID)
	}
	if !r.Synced || r.IsLocalOnly {
		t.Errorf("synced=%v isLocalOnly=%v, want true/false for backend-sourced record", r.Synced, r.IsLocalOnly)
	}
	if r.Category != "post_meal" {
		t.Errorf("category = %q, want post_meal", r.Category)
	}
	if r.Status != StatusNormal {
		t.Errorf("status = %q, want %q", r.Status, StatusNormal)
	}
	if r.LocalStoredAt != now.UnixMilli() {
		t.Errorf("localStoredAt = %d, want %d", r.LocalStoredAt, now.UnixMilli())
	}
}

func TestToBackendPayloadStripsLocalFields(t *testing.T) {
	measured := time.Date(2024, 3, 15, 11, 30, 0, 0, time.UTC)
	p := ToBackendPayload(&store.Reading{
		ID:            "local_1_abc",
		Value:         95,
		Unit:          UnitMgdL,
		Category:      "fasting",
		Notes:         "",
		MeasuredAt:    measured.UnixMilli(),
		LocalStoredAt: 12345,
	})
	if p.Category != "FASTING" {
		t.Errorf("category = %q, want FASTING", p.Category)
	}
	// 11:30 UTC renders as 08:30 at the backend's UTC-3 offset.
	if p.MeasuredAt != "15/03/2024 08:30:00" {
		t.Errorf("measuredAt = %q, want 15/03/2024 08:30:00", p.MeasuredAt)
	}
}

func TestLocalIDGeneration(t *testing.T) {
	now := time.Now()
	a := NewLocalID(now)
	b := NewLocalID(now)
	if !strings.HasPrefix(a, "local_") || !strings.HasPrefix(b, "local_") {
		t.Errorf("ids %q, %q missing local_ prefix", a, b)
	}
	if a == b {
		t.Errorf("two generated ids collided: %q", a)
	}
	if got := BackendLocalID("7"); got != "backend_7" {
		t.Errorf("BackendLocalID = %q, want backend_7", got)
	}
}
