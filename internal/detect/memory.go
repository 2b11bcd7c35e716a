package detect

import (
	"context"
	"encoding/binary"
	"fmt"
)

// Width selects how memory bytes are interpreted.
type Width string

const (
	WidthU8  Width = "u8"
	WidthS8  Width = "s8"
	WidthU16 Width = "u16"
	WidthS16 Width = "s16"
)

// Size returns the number of bytes the width reads.
func (w Width) Size() int {
	switch w {
	case WidthU8, WidthS8:
		return 1
	case WidthU16, WidthS16:
		return 2
	}
	return 0
}

// Decode interprets raw bytes (little-endian for 16-bit widths).
func (w Width) Decode(b []byte) (int64, error) {
	if len(b) < w.Size() || w.Size() == 0 {
		return 0, fmt.Errorf("cannot decode %d bytes as %q", len(b), w)
	}
	switch w {
	case WidthU8:
		return int64(b[0]), nil
	case WidthS8:
		return int64(int8(b[0])), nil
	case WidthU16:
		return int64(binary.LittleEndian.Uint16(b)), nil
	case WidthS16:
		return int64(int16(binary.LittleEndian.Uint16(b))), nil
	}
	return 0, fmt.Errorf("unknown width %q", w)
}

// Comparator is the test a memory detector applies.
type Comparator string

const (
	Equals      Comparator = "equals"
	NotEquals   Comparator = "notEquals"
	GreaterThan Comparator = "greaterThan"
	LessThan    Comparator = "lessThan"
	Changed     Comparator = "changed"
	Increased   Comparator = "increased"
	Decreased   Comparator = "decreased"
)

func (c Comparator) needsCompareValue() bool {
	switch c {
	case Equals, NotEquals, GreaterThan, LessThan:
		return true
	}
	return false
}

func (c Comparator) valid() bool {
	switch c {
	case Equals, NotEquals, GreaterThan, LessThan, Changed, Increased, Decreased:
		return true
	}
	return false
}

// MemoryDetector fires on a comparison over a value in emulated memory.
//
// The last observed value is kept between polls and updated after every
// evaluation, fired or not. For increased/decreased, the threshold is
// measured from an anchor: the value at the last firing, moved along with
// any movement in the opposite direction. With a threshold of 1 this is
// identical to comparing against the previous poll.
type MemoryDetector struct {
	Common
	Address         uint32
	Width           Width
	Comparator      Comparator
	CompareValue    *int64
	ChangeThreshold int64

	previous *int64
	anchor   *int64
}

// Base implements Detector.
func (d *MemoryDetector) Base() Common { return d.Common }

// Kind implements Detector.
func (d *MemoryDetector) Kind() Kind { return KindMemory }

// Validate checks the detector configuration.
func (d *MemoryDetector) Validate() error {
	if err := validateCommon(d.Common); err != nil {
		return err
	}
	if d.Width.Size() == 0 {
		return fmt.Errorf("detector %s: invalid width %q", d.ID, d.Width)
	}
	if !d.Comparator.valid() {
		return fmt.Errorf("detector %s: invalid comparator %q", d.ID, d.Comparator)
	}
	if d.Comparator.needsCompareValue() && d.CompareValue == nil {
		return fmt.Errorf("detector %s: comparator %s requires compareValue", d.ID, d.Comparator)
	}
	if d.ChangeThreshold < 0 {
		return fmt.Errorf("detector %s: changeThreshold must not be negative", d.ID)
	}
	return nil
}

// PreviousValue returns the value seen on the last evaluation.
func (d *MemoryDetector) PreviousValue() (int64, bool) {
	if d.previous == nil {
		return 0, false
	}
	return *d.previous, true
}

func (d *MemoryDetector) threshold() int64 {
	if d.ChangeThreshold <= 0 {
		return 1
	}
	return d.ChangeThreshold
}

func (d *MemoryDetector) evaluate(ctx context.Context, e *env) (Data, bool, error) {
	if e.caps.Memory == nil {
		return nil, false, fmt.Errorf("memory access: %w", ErrCapabilityUnavailable)
	}
	if d.Comparator.needsCompareValue() && d.CompareValue == nil {
		return nil, false, fmt.Errorf("comparator %s without compareValue", d.Comparator)
	}

	raw, err := e.caps.Memory.ReadMemory(ctx, d.Address, d.Width.Size())
	if err != nil {
		return nil, false, fmt.Errorf("read 0x%04X: %w", d.Address, err)
	}
	value, err := d.Width.Decode(raw)
	if err != nil {
		return nil, false, err
	}

	prev := d.previous
	fired, delta := d.compare(value, prev)

	v := value
	d.previous = &v

	if !fired {
		return nil, false, nil
	}
	data := Data{"value": value}
	if prev != nil {
		data["previous"] = *prev
		data["delta"] = delta
	}
	return data, true, nil
}

// compare applies the comparator. It returns whether the detector fires and
// the delta to report.
func (d *MemoryDetector) compare(value int64, prev *int64) (bool, int64) {
	var delta int64
	if prev != nil {
		delta = value - *prev
	}

	switch d.Comparator {
	case Equals:
		return value == *d.CompareValue, delta
	case NotEquals:
		return value != *d.CompareValue, delta
	case GreaterThan:
		return value > *d.CompareValue, delta
	case LessThan:
		return value < *d.CompareValue, delta
	case Changed:
		return prev != nil && value != *prev, delta
	case Increased, Decreased:
		if prev == nil {
			d.setAnchor(value)
			return false, 0
		}
		if d.anchor == nil {
			d.setAnchor(*prev)
		}
		moved := value - *d.anchor
		if d.Comparator == Decreased {
			moved = -moved
		}
		switch {
		case moved >= d.threshold():
			reported := value - *d.anchor
			d.setAnchor(value)
			return true, reported
		case moved < 0:
			d.setAnchor(value)
		}
		return false, delta
	}
	return false, delta
}

func (d *MemoryDetector) setAnchor(v int64) {
	d.anchor = &v
}
