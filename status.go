package dbpatch

// Status is the persisted state of a patch.
type Status string

const (
	StatusAwaiting Status = "awaiting"
	StatusApplied  Status = "applied"
	StatusSkipped  Status = "skipped"
	StatusError    Status = "error"
)

func (s Status) String() string {
	return string(s)
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusAwaiting, StatusApplied, StatusSkipped, StatusError:
		return true
	}
	return false
}

// PatchType classifies a patch. It is informational only; legacy patches
// carry the zero value.
type PatchType struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}
