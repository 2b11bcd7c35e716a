// Package feedback turns detector events into reward and feedback text for
// the model. It owns the loaded profiles, the active profile and the
// episode total.
package feedback

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/andywolf/gamepilot/internal/detect"
)

// Profile is the set of detectors and reward rules for the titles matching
// TitlePattern.
type Profile struct {
	Name                    string
	TitlePattern            string
	Detectors               []detect.Detector
	RewardRules             []RewardRule
	DefaultRewardForSilence *float64

	// Source is the file the profile was loaded from, if any.
	Source string

	// titleRe is nil when TitlePattern is not a valid regex. Both fields
	// are written only by Validate.
	titleRe  *regexp.Regexp
	compiled bool
}

// Validate checks the profile and every detector and rule in it.
func (p *Profile) Validate() error {
	if strings.TrimSpace(p.TitlePattern) == "" {
		return errors.New("titlePattern is required")
	}
	p.titleRe = compileTitle(p.TitlePattern)
	p.compiled = true

	ids := make(map[string]bool, len(p.Detectors))
	for i, d := range p.Detectors {
		if d == nil {
			return fmt.Errorf("detector %d is empty", i)
		}
		if err := d.Validate(); err != nil {
			return err
		}
		id := d.Base().ID
		if ids[id] {
			return fmt.Errorf("duplicate detector id %q", id)
		}
		ids[id] = true
	}

	for i := range p.RewardRules {
		if err := p.RewardRules[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

func compileTitle(pattern string) *regexp.Regexp {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil
	}
	return re
}

// Matches reports whether the running title selects this profile. The
// pattern is a case-insensitive regex, or a case-insensitive substring when
// it does not compile. Matches does not modify p.
func (p *Profile) Matches(title string) bool {
	re := p.titleRe
	if !p.compiled {
		re = compileTitle(p.TitlePattern)
	}
	if re != nil {
		return re.MatchString(title)
	}
	return strings.Contains(strings.ToLower(title), strings.ToLower(p.TitlePattern))
}

// DisplayName returns the profile name or, failing that, its pattern.
func (p *Profile) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.TitlePattern
}
