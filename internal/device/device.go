// Package device describes the emulator the controller drives.
package device

import (
	"context"
	"errors"
	"image"

	"github.com/andywolf/gamepilot/internal/action"
)

// ErrNoFrame is returned when the emulator has no frame to give.
var ErrNoFrame = errors.New("no frame available")

// Device is the emulation engine as seen by the controller.
type Device interface {
	// CaptureFrame returns the current screen, or ErrNoFrame.
	CaptureFrame(ctx context.Context) (image.Image, error)
	IsRunning(ctx context.Context) bool
	action.Input
}

// Titled is implemented by devices that know the running game's title.
type Titled interface {
	Title(ctx context.Context) (string, error)
}
