package detect

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// TextDetector fires when recognised on-screen text matches a pattern.
type TextDetector struct {
	Common
	Pattern       string
	IsRegex       bool
	CaseSensitive bool
	Region        *Rect

	re *regexp.Regexp
}

// Base implements Detector.
func (d *TextDetector) Base() Common { return d.Common }

// Kind implements Detector.
func (d *TextDetector) Kind() Kind { return KindText }

// Validate checks the configuration and compiles the regex once.
func (d *TextDetector) Validate() error {
	if err := validateCommon(d.Common); err != nil {
		return err
	}
	if d.Pattern == "" {
		return fmt.Errorf("detector %s: pattern is required", d.ID)
	}
	if d.IsRegex {
		expr := d.Pattern
		if !d.CaseSensitive {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return fmt.Errorf("detector %s: invalid pattern: %w", d.ID, err)
		}
		d.re = re
	}
	return nil
}

// Match tests recognised text against the pattern.
func (d *TextDetector) Match(text string) (bool, error) {
	if d.IsRegex {
		if d.re == nil {
			if err := d.Validate(); err != nil {
				return false, err
			}
		}
		return d.re.MatchString(text), nil
	}
	if d.CaseSensitive {
		return strings.Contains(text, d.Pattern), nil
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(d.Pattern)), nil
}

func (d *TextDetector) evaluate(ctx context.Context, e *env) (Data, bool, error) {
	if e.caps.Text == nil {
		return nil, false, fmt.Errorf("text recognition: %w", ErrCapabilityUnavailable)
	}
	if e.frame == nil {
		return nil, false, errors.New("no frame to recognise text in")
	}
	region, err := resolveRegion(d.Region, e.frame)
	if err != nil {
		return nil, false, err
	}
	text, err := e.caps.Text.RecognizeText(ctx, e.frame, region)
	if err != nil {
		return nil, false, fmt.Errorf("recognise text: %w", err)
	}
	ok, err := d.Match(text)
	return nil, ok, err
}
