package detect

import (
	"context"
	"errors"
	"fmt"
)

// ImageDetector fires when a frame region is similar enough to a reference
// pattern.
type ImageDetector struct {
	Common
	PatternRef          []byte
	SimilarityThreshold float64
	Region              *Rect
}

// Base implements Detector.
func (d *ImageDetector) Base() Common { return d.Common }

// Kind implements Detector.
func (d *ImageDetector) Kind() Kind { return KindImage }

// Validate checks the detector configuration.
func (d *ImageDetector) Validate() error {
	if err := validateCommon(d.Common); err != nil {
		return err
	}
	if len(d.PatternRef) == 0 {
		return fmt.Errorf("detector %s: patternRef is required", d.ID)
	}
	if d.SimilarityThreshold < 0 || d.SimilarityThreshold > 1 {
		return fmt.Errorf("detector %s: similarityThreshold %v outside [0,1]", d.ID, d.SimilarityThreshold)
	}
	return nil
}

func (d *ImageDetector) evaluate(ctx context.Context, e *env) (Data, bool, error) {
	if e.caps.Image == nil {
		return nil, false, fmt.Errorf("image matching: %w", ErrCapabilityUnavailable)
	}
	if e.frame == nil {
		return nil, false, errors.New("no frame to match against")
	}
	region, err := resolveRegion(d.Region, e.frame)
	if err != nil {
		return nil, false, err
	}
	score, err := e.caps.Image.Similarity(ctx, e.frame, region, d.PatternRef)
	if err != nil {
		return nil, false, fmt.Errorf("similarity: %w", err)
	}
	return nil, score >= d.SimilarityThreshold, nil
}
