package domain

// Status is the result class of one debit attempt.
type Status string

const (
	StatusApplied   Status = "applied"
	StatusDuplicate Status = "duplicate"
	StatusFailed    Status = "failed"
)

// Outcome is the result of a debit attempt. Entry is set when Applied, Err when Failed.
type Outcome struct {
	Status Status
	Entry  *JournalEntry
	Err    error
}

func Applied(entry JournalEntry) Outcome {
	return Outcome{Status: StatusApplied, Entry: &entry}
}

func Duplicate() Outcome {
	return Outcome{Status: StatusDuplicate}
}

func Failed(err error) Outcome {
	return Outcome{Status: StatusFailed, Err: err}
}

// Commit reports whether the writes made while producing this outcome must be kept.
// Duplicates commit as a no-op; failures abort.
func (o Outcome) Commit() bool {
	return o.Status == StatusApplied || o.Status == StatusDuplicate
}

func (o Outcome) String() string {
	if o.Status == StatusFailed && o.Err != nil {
		return string(o.Status) + ": " + o.Err.Error()
	}
	return string(o.Status)
}
