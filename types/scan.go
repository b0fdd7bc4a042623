package types

// ScanKind is the closed set of scan types the pipeline knows how to export.
type ScanKind int

const (
	// ScanUnknown means no export strategy applies.
	ScanUnknown ScanKind = iota
	// ScanStepXAS is an energy step scan (XAS_STEP).
	ScanStepXAS
	// ScanFlyXAS is a continuous energy fly scan (XAS_FLY).
	ScanFlyXAS
	// ScanStepXRF is a 2-D fluorescence step map (XRF_STEP).
	ScanStepXRF
	// ScanFlyXRF is a 2-D fluorescence fly map (XRF_FLY).
	ScanFlyXRF
)

// Scan type strings as written by the acquisition plans.
const (
	ScanTypeStepXAS = "XAS_STEP"
	ScanTypeFlyXAS  = "XAS_FLY"
	ScanTypeStepXRF = "XRF_STEP"
	ScanTypeFlyXRF  = "XRF_FLY"
)

var scanKinds = map[string]ScanKind{
	ScanTypeStepXAS: ScanStepXAS,
	ScanTypeFlyXAS:  ScanFlyXAS,
	ScanTypeStepXRF: ScanStepXRF,
	ScanTypeFlyXRF:  ScanFlyXRF,
}

// String returns the scan type string, or "unknown".
func (k ScanKind) String() string {
	for s, kind := range scanKinds {
		if kind == k {
			return s
		}
	}
	return "unknown"
}

// IsXRF reports whether the kind is one of the fluorescence map types.
func (k ScanKind) IsXRF() bool {
	return k == ScanStepXRF || k == ScanFlyXRF
}

// Classify maps a record's scan.type to a ScanKind.
// Records without a scan sub-document classify as ScanUnknown.
func Classify(rec *RunRecord) ScanKind {
	if rec == nil || rec.Start.Scan == nil {
		return ScanUnknown
	}
	return ClassifyType(rec.Start.Scan.Type)
}

// ClassifyType maps a raw scan type string to a ScanKind.
func ClassifyType(scanType string) ScanKind {
	if kind, ok := scanKinds[scanType]; ok {
		return kind
	}
	return ScanUnknown
}

// ScanType returns the raw scan.type of a record, or "unknown".
func ScanType(rec *RunRecord) string {
	if rec == nil || rec.Start.Scan == nil || rec.Start.Scan.Type == "" {
		return "unknown"
	}
	return rec.Start.Scan.Type
}
