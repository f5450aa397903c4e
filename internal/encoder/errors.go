package encoder

import "strings"

type ErrorType string

const (
	ErrorRate      ErrorType = "rate"
	ErrorTransient ErrorType = "transient"
	ErrorPermanent ErrorType = "permanent"
	ErrorShape     ErrorType = "shape"
)

// ClassifyError sorts sidecar failures into retryable and terminal kinds.
// Rate and transient errors are worth retrying with backoff; shape errors
// mean the sidecar disagrees about the model and retrying cannot help.
func ClassifyError(err error) ErrorType {
	if err == nil {
		return ""
	}
	e := strings.ToLower(err.Error())
	switch {
	case strings.Contains(e, "rate"), strings.Contains(e, "429"):
		return ErrorRate
	case strings.Contains(e, "dimension"), strings.Contains(e, "vectors for"):
		return ErrorShape
	case strings.Contains(e, "timeout"), strings.Contains(e, "temporarily"),
		strings.Contains(e, "unavailable"), strings.Contains(e, "connection refused"),
		strings.Contains(e, "502"), strings.Contains(e, "503"):
		return ErrorTransient
	default:
		return ErrorPermanent
	}
}

// Retryable reports whether a fresh attempt against the sidecar can
// plausibly succeed.
func Retryable(err error) bool {
	t := ClassifyError(err)
	return t == ErrorRate || t == ErrorTransient
}
