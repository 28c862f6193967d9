package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := New(CodeInsufficientBalance, "balance too low")
	if !stderrors.Is(err, &Error{Code: CodeInsufficientBalance}) {
		t.Fatalf("expected code match")
	}
	if stderrors.Is(err, &Error{Code: CodeInvalidAmount}) {
		t.Fatalf("expected code mismatch")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("disk full")
	err := Wrap(CodePaymentFailed, "payment settlement failed", cause)
	if !stderrors.Is(err, cause) {
		t.Fatalf("expected wrapped cause to match")
	}
	if err.Error() != "payment settlement failed" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestIsCodeWalksChain(t *testing.T) {
	inner := New(CodeWeightTooHigh, "weight above 10000")
	outer := Wrap(CodeExecutionFailed, "apply allocation changes", inner)
	wrapped := fmt.Errorf("execute proposal 7: %w", outer)

	tests := []struct {
		name string
		err  error
		code Code
		want bool
	}{
		{"outer code", wrapped, CodeExecutionFailed, true},
		{"inner code", wrapped, CodeWeightTooHigh, true},
		{"absent code", wrapped, CodeAlreadyVoted, false},
		{"nil error", nil, CodeUnknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsCode(tt.err, tt.code); got != tt.want {
				t.Fatalf("IsCode(%v, %s) = %v, want %v", tt.err, tt.code, got, tt.want)
			}
		})
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(New(CodeAlreadyVoted, "duplicate vote")); got != CodeAlreadyVoted {
		t.Fatalf("expected CodeAlreadyVoted, got %s", got)
	}
	if got := CodeOf(stderrors.New("plain")); got != CodeUnknown {
		t.Fatalf("expected CodeUnknown, got %s", got)
	}
}
