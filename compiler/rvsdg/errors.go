package rvsdg

import (
	"fmt"

	"github.com/halvorlinder/jlm/compiler/types"
)

type (
	TypeMismatchError struct {
		Expected types.Type
		Got      types.Type
	}

	ScopeViolationError struct {
		What string
	}

	NodeInUseError struct {
		Op    string
		Users int
	}
)

func NewTypeMismatch(expected, got types.Type) TypeMismatchError {
	return TypeMismatchError{
		Expected: expected,
		Got:      got,
	}
}

func (e TypeMismatchError) Error() string {
	return fmt.Sprintf("type mismatch: expected %v, got %v", e.Expected, e.Got)
}

func NewScopeViolation(what string) ScopeViolationError {
	return ScopeViolationError{
		What: what,
	}
}

func (e ScopeViolationError) Error() string {
	return fmt.Sprintf("scope violation: %v", e.What)
}

func NewNodeInUse(op string, users int) NodeInUseError {
	return NodeInUseError{
		Op:    op,
		Users: users,
	}
}

func (e NodeInUseError) Error() string {
	return fmt.Sprintf("node in use: %v has %d users", e.Op, e.Users)
}
