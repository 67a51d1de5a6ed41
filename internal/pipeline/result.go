package pipeline

import "github.com/paperglass/receipt-search-backend/internal/models"

// StepOutcome classifies what happened to one processing step.
type StepOutcome string

// Possible values for StepOutcome
const (
	StepOK      StepOutcome = "ok"
	StepSkipped StepOutcome = "skipped"
	StepFailed  StepOutcome = "failed"
)

// StepResult records the outcome of one processing step. Err is set
// only when Outcome is StepFailed.
type StepResult struct {
	Name    string
	Outcome StepOutcome
	Err     error
}

// ProcessResult is the full account of one processing run. A FAILED
// status with a nil error from Process means the failure is a domain
// outcome (bad image, analyzer rejection), not an infrastructure fault.
type ProcessResult struct {
	ReceiptID    string
	ImageID      string
	Status       models.ProcessingStatus
	Receipt      *models.Receipt
	Steps        []StepResult
	ErrorMessage string
}

func (r *ProcessResult) step(name string, outcome StepOutcome, err error) {
	r.Steps = append(r.Steps, StepResult{Name: name, Outcome: outcome, Err: err})
}

// Failed reports whether any step failed.
func (r *ProcessResult) Failed() bool {
	for _, st := range r.Steps {
		if st.Outcome == StepFailed {
			return true
		}
	}
	return false
}
