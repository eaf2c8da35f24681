package domain

// Severity of a validation finding
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityFatal   Severity = "fatal"
)

// ViolationClass tells the orchestrator how a fatal finding may be overridden
type ViolationClass string

const (
	ClassStructural ViolationClass = "structural"
	ClassThreshold  ViolationClass = "threshold"
	ClassQuality    ViolationClass = "quality"
)

// Violation is a single validation finding
type Violation struct {
	Severity Severity       `json:"severity"`
	Class    ViolationClass `json:"class"`
	Code     string         `json:"code"`
	Message  string         `json:"message"`
}

// ValidationStats are the aggregate figures computed while validating
type ValidationStats struct {
	Total         int     `json:"total"`
	ZeroPrice     int     `json:"zero_price"`
	ZeroStock     int     `json:"zero_stock"`
	ZeroPricePct  float64 `json:"zero_price_pct"`
	ZeroStockPct  float64 `json:"zero_stock_pct"`
	PreviousTotal int     `json:"previous_total"`
	CountDelta    int     `json:"count_delta"`
	CountDeltaPct float64 `json:"count_delta_pct"`
}

// ValidationReport is the result of validating one snapshot
type ValidationReport struct {
	Violations []Violation     `json:"violations"`
	Stats      ValidationStats `json:"stats"`
}

// Blocking returns the violations that must abort a run. Threshold
// violations are waived when force is set; structural ones never are.
func (r ValidationReport) Blocking(force bool) []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity != SeverityFatal {
			continue
		}
		if force && v.Class == ClassThreshold {
			continue
		}
		out = append(out, v)
	}
	return out
}

// Warnings returns the non-fatal violations
func (r ValidationReport) Warnings() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity == SeverityWarning {
			out = append(out, v)
		}
	}
	return out
}

// HasFatal reports whether any fatal violation exists regardless of overrides
func (r ValidationReport) HasFatal() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityFatal {
			return true
		}
	}
	return false
}
