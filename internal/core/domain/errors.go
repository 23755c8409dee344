package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownOutcome        = errors.New("unknown outcome")
	ErrIncompleteGroupingKey = errors.New("incomplete grouping key")
	ErrMissingExchangeRate   = errors.New("missing exchange rate")
	ErrPartialGrading        = errors.New("partial grading")
	ErrConcurrentMutation    = errors.New("concurrent mutation")

	ErrNotFound          = errors.New("not found")
	ErrMultiLegExcluded  = errors.New("multi-leg bet excluded from matching")
	ErrNotVerified       = errors.New("bet is not verified")
	ErrSurebetNotOpen    = errors.New("surebet is not open")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrSideReassignment  = errors.New("side assignment is write-once")
	ErrInvalidAmount     = errors.New("invalid amount")
)

// PartialGradingError lista as apostas sem graduação válida
// Unknown traz ids graduados que não pertencem à surebet
type PartialGradingError struct {
	SurebetID string
	Missing   []string
	Invalid   []string
	Unknown   []string
}

func (e *PartialGradingError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing="+strings.Join(e.Missing, ","))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid="+strings.Join(e.Invalid, ","))
	}
	if len(e.Unknown) > 0 {
		parts = append(parts, "unknown="+strings.Join(e.Unknown, ","))
	}
	return fmt.Sprintf("partial grading for surebet %s: %s", e.SurebetID, strings.Join(parts, " "))
}

func (e *PartialGradingError) Is(target error) bool { return target == ErrPartialGrading }
