// Package detect evaluates per-title event detectors against the emulator's
// memory and screen. Detectors come in three kinds (memory, text, image),
// each independently enabled and cooled down by id.
package detect

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/andywolf/gamepilot/internal/action"
)

// ErrCapabilityUnavailable is returned by a detector whose required
// capability (memory access, text recognition, image matching) is missing.
var ErrCapabilityUnavailable = errors.New("capability unavailable")

// Kind discriminates detector variants.
type Kind string

const (
	KindMemory Kind = "memory"
	KindText   Kind = "text"
	KindImage  Kind = "image"
)

// Source identifies where an event came from.
type Source string

const (
	SourceMemory Source = "memory"
	SourceText   Source = "text"
	SourceImage  Source = "image"
	SourceManual Source = "manual"
	SourceSystem Source = "system"
)

// Data is the free-form payload attached to an event.
type Data map[string]any

// dataKeyOrder fixes the rendering order of well-known keys; any other keys
// follow alphabetically.
var dataKeyOrder = []string{"value", "previous", "delta"}

// String renders data as "key: value" pairs in a stable order.
func (d Data) String() string {
	if len(d) == 0 {
		return ""
	}
	keys := make([]string, 0, len(d))
	seen := make(map[string]bool, len(d))
	for _, k := range dataKeyOrder {
		if _, ok := d[k]; ok {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	var rest []string
	for k := range d {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	keys = append(keys, rest...)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %v", k, d[k]))
	}
	return strings.Join(parts, ", ")
}

// Number returns the numeric value stored under key.
func (d Data) Number(key string) (float64, bool) {
	v, ok := d[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// Event is one detector firing.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Source    Source    `json:"source"`
	Data      Data      `json:"data,omitempty"`
}

// Rect is a rectangle in frame pixels.
type Rect struct {
	X      int `json:"x" yaml:"x"`
	Y      int `json:"y" yaml:"y"`
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// resolveRegion clips r to the frame bounds; a nil region means the whole
// frame.
func resolveRegion(r *Rect, frame image.Image) (image.Rectangle, error) {
	bounds := frame.Bounds()
	if r == nil {
		return bounds, nil
	}
	rect := image.Rect(bounds.Min.X+r.X, bounds.Min.Y+r.Y, bounds.Min.X+r.X+r.Width, bounds.Min.Y+r.Y+r.Height).Intersect(bounds)
	if rect.Empty() {
		return rect, fmt.Errorf("region %+v lies outside frame %v", *r, bounds)
	}
	return rect, nil
}

// MemoryReader reads raw bytes from emulated memory.
type MemoryReader interface {
	ReadMemory(ctx context.Context, address uint32, length int) ([]byte, error)
}

// TextRecognizer extracts text from a region of a frame.
type TextRecognizer interface {
	RecognizeText(ctx context.Context, frame image.Image, region image.Rectangle) (string, error)
}

// ImageMatcher scores how closely a region of a frame matches a pattern,
// in [0,1].
type ImageMatcher interface {
	Similarity(ctx context.Context, frame image.Image, region image.Rectangle, pattern []byte) (float64, error)
}

// Capabilities bundles the optional mechanisms detectors depend on. Any of
// them may be nil.
type Capabilities struct {
	Memory MemoryReader
	Text   TextRecognizer
	Image  ImageMatcher
}

// PollContext describes the moment being evaluated.
type PollContext struct {
	Title          string
	Timestamp      time.Time // zero means "now" per the set's clock
	PreviousAction action.Button
}

// Common holds the fields shared by all detector kinds.
type Common struct {
	ID       string
	Cooldown time.Duration
	Enabled  bool
}

// Detector is a sealed sum type over MemoryDetector, TextDetector and
// ImageDetector.
type Detector interface {
	Base() Common
	Kind() Kind
	Validate() error
	evaluate(ctx context.Context, env *env) (Data, bool, error)
}

type env struct {
	caps  Capabilities
	frame image.Image
	poll  PollContext
}

func validateCommon(c Common) error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("detector id is required")
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("detector %s: cooldown must not be negative", c.ID)
	}
	return nil
}

// Source returns the event source for a detector kind.
func (k Kind) Source() Source {
	switch k {
	case KindMemory:
		return SourceMemory
	case KindText:
		return SourceText
	case KindImage:
		return SourceImage
	}
	return SourceSystem
}
