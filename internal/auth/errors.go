package auth

import (
	"errors"

	"github.com/hnrobert/trydo/internal/provider"
)

// ErrUnexpected marks failures that are not reported by the provider, such
// as a panic recovered during sign-out.
var ErrUnexpected = errors.New("unexpected error")

const (
	MsgSignOutFailed = "Failed to sign out. Please try again."
	MsgUnexpected    = "An unexpected error occurred. Please try again."
	MsgGeneric       = "Something went wrong. Please try again."
)

// HumanError maps err to a message safe to show on a page. Provider messages
// are shown verbatim.
func HumanError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnexpected):
		return MsgUnexpected
	}
	if pe, ok := provider.AsError(err); ok && pe.Message != "" {
		return pe.Message
	}
	return MsgGeneric
}

// SignOutMessage is the banner shown when sign-out did not complete.
func SignOutMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnexpected):
		return MsgUnexpected
	default:
		return MsgSignOutFailed
	}
}
