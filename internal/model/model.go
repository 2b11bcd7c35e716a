// Package model calls the vision/text model that decides each action.
package model

import (
	"context"
	"image"
)

// Request kinds, used as a metrics label.
const (
	KindCycle = "cycle"
	KindAsk   = "ask"
)

// Request is one model call: a system instruction, a user instruction and
// the current screen.
type Request struct {
	System string
	User   string
	Image  image.Image // optional
	Kind   string
}

// Client sends a request and returns the model's text reply.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}
