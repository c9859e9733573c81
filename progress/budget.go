package progress

// Budget is the [Start, End] percent range a phase may report within.
type Budget struct {
	Start float64
	End   float64
}

// Scale maps a completion fraction in [0,1] into the budget.
func (b Budget) Scale(fraction float64) float64 {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	return b.Start + fraction*(b.End-b.Start)
}

// ReportFunc is how a phase reports mid-phase progress.
type ReportFunc func(percent float64, details Details)

// Discard is a ReportFunc that drops everything.
func Discard(float64, Details) {}
