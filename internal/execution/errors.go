package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// FailureKind buckets execution errors by how the caller reacts to them.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureInsufficientFunds
	FailureSlippage
	FailureRateLimited
	FailureSimulation
	FailureSubmission
	FailureCancelled
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureInsufficientFunds:
		return "insufficient_funds"
	case FailureSlippage:
		return "slippage_exceeded"
	case FailureRateLimited:
		return "rate_limited"
	case FailureSimulation:
		return "simulation_failed"
	case FailureCancelled:
		return "cancelled"
	default:
		return "submission_error"
	}
}

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrSlippageExceeded  = errors.New("slippage tolerance exceeded")
	ErrRateLimited       = errors.New("rate limited")
	ErrSimulationFailed  = errors.New("simulation failed")
	ErrNoBlockhash       = errors.New("no usable blockhash")
)

// SubmissionError wraps any other failure from the swap path.
type SubmissionError struct {
	Op   string
	Mint string
	Err  error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Mint, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// Classify maps err onto a FailureKind. Typed errors are matched first; raw
// node or program messages are matched by substring.
func Classify(err error) FailureKind {
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, ErrInsufficientFunds):
		return FailureInsufficientFunds
	case errors.Is(err, ErrSlippageExceeded):
		return FailureSlippage
	case errors.Is(err, ErrRateLimited):
		return FailureRateLimited
	case errors.Is(err, ErrSimulationFailed):
		return FailureSimulation
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return FailureCancelled
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient funds"),
		strings.Contains(msg, "insufficient lamports"),
		strings.Contains(msg, "custom program error: 0x1\""),
		strings.HasSuffix(msg, "custom program error: 0x1"):
		return FailureInsufficientFunds
	case strings.Contains(msg, "toolittlesolreceived"),
		strings.Contains(msg, "toomuchsolrequired"),
		strings.Contains(msg, "slippage"):
		return FailureSlippage
	case strings.Contains(msg, "429"), strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return FailureRateLimited
	case strings.Contains(msg, "simulation failed"), strings.Contains(msg, "custom program error"):
		return FailureSimulation
	}
	return FailureSubmission
}
