package diag

// Severity defines the importance of a diagnostic.
type Severity uint8

const (
	// SevInfo is for informational diagnostics.
	SevInfo Severity = iota
	// SevWarning is for warning diagnostics.
	SevWarning
	SevError
)

func (s Severity) String() string {
	switch s {
	case SevInfo:
		return "INFO"
	case SevWarning:
		return "WARNING"
	case SevError:
		return "ERROR"
	}
	return "UNKNOWN"
}

// SeverityFromTool maps the checker's numeric wire severity to Severity.
// Zero is the only value the tool defines today (error); reserved values
// read as errors too so nothing is ever silently downgraded.
func SeverityFromTool(int64) Severity {
	return SevError
}
