package types

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		rec  *RunRecord
		want ScanKind
	}{
		{"nil record", nil, ScanUnknown},
		{"no scan document", &RunRecord{}, ScanUnknown},
		{"empty type", &RunRecord{Start: StartDoc{Scan: &ScanInfo{}}}, ScanUnknown},
		{"xas step", &RunRecord{Start: StartDoc{Scan: &ScanInfo{Type: "XAS_STEP"}}}, ScanStepXAS},
		{"xas fly", &RunRecord{Start: StartDoc{Scan: &ScanInfo{Type: "XAS_FLY"}}}, ScanFlyXAS},
		{"xrf step", &RunRecord{Start: StartDoc{Scan: &ScanInfo{Type: "XRF_STEP"}}}, ScanStepXRF},
		{"xrf fly", &RunRecord{Start: StartDoc{Scan: &ScanInfo{Type: "XRF_FLY"}}}, ScanFlyXRF},
		{"case sensitive", &RunRecord{Start: StartDoc{Scan: &ScanInfo{Type: "xas_step"}}}, ScanUnknown},
		{"peakup", &RunRecord{Start: StartDoc{Scan: &ScanInfo{Type: "PEAKUP"}}}, ScanUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.rec); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScanKind_String(t *testing.T) {
	if got := ScanFlyXRF.String(); got != "XRF_FLY" {
		t.Errorf("expected XRF_FLY, got %s", got)
	}
	if got := ScanUnknown.String(); got != "unknown" {
		t.Errorf("expected unknown, got %s", got)
	}
}

func TestScanKind_IsXRF(t *testing.T) {
	for _, k := range []ScanKind{ScanStepXRF, ScanFlyXRF} {
		if !k.IsXRF() {
			t.Errorf("%v should be XRF", k)
		}
	}
	for _, k := range []ScanKind{ScanUnknown, ScanStepXAS, ScanFlyXAS} {
		if k.IsXRF() {
			t.Errorf("%v should not be XRF", k)
		}
	}
}

func TestScanType_DefaultsToUnknown(t *testing.T) {
	if got := ScanType(&RunRecord{}); got != "unknown" {
		t.Errorf("expected unknown, got %s", got)
	}
}
