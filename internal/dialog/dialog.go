// Package dialog is a confirm/cancel state machine for destructive actions.
package dialog

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	ErrNotOpen    = errors.New("dialog: not open")
	ErrBusy       = errors.New("dialog: confirmation in progress")
	ErrUnexpected = errors.New("dialog: unexpected failure")
)

const (
	LabelConfirm    = "Sign Out"
	LabelConfirming = "Signing Out..."
)

// State is the observable state. IsLoading implies IsOpen.
type State struct {
	IsOpen    bool `json:"isOpen"`
	IsLoading bool `json:"isLoading"`
}

// ButtonsDisabled reports whether Cancel and Confirm are inert.
func (s State) ButtonsDisabled() bool { return s.IsLoading }

func (s State) ConfirmLabel() string {
	if s.IsLoading {
		return LabelConfirming
	}
	return LabelConfirm
}

// Dialog moves Closed -> Open -> Confirming -> Closed.
type Dialog struct {
	mu    sync.Mutex
	state State
}

func (d *Dialog) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Request opens the dialog. It does nothing if already open.
func (d *Dialog) Request() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state.IsOpen = true
}

// Cancel closes an open dialog. It is refused while confirming.
func (d *Dialog) Cancel() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state.IsLoading {
		return ErrBusy
	}
	d.state = State{}
	return nil
}

// Confirm runs action with the dialog in the confirming state and closes it
// afterwards, whether action fails or not.
func (d *Dialog) Confirm(ctx context.Context, action func(context.Context) error) (err error) {
	d.mu.Lock()
	switch {
	case !d.state.IsOpen:
		d.mu.Unlock()
		return ErrNotOpen
	case d.state.IsLoading:
		d.mu.Unlock()
		return ErrBusy
	}
	d.state.IsLoading = true
	d.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrUnexpected, r)
		}
		d.mu.Lock()
		d.state = State{}
		d.mu.Unlock()
	}()
	return action(ctx)
}
