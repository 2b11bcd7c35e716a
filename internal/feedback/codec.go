package feedback

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/andywolf/gamepilot/internal/detect"
)

// profileFile is the on-disk YAML form of a Profile.
type profileFile struct {
	Name                    string         `yaml:"name"`
	TitlePattern            string         `yaml:"titlePattern"`
	DefaultRewardForSilence *float64       `yaml:"defaultRewardForSilence,omitempty"`
	Detectors               []detectorFile `yaml:"detectors"`
	RewardRules             []ruleFile     `yaml:"rewardRules"`
}

type detectorFile struct {
	ID         string `yaml:"id"`
	Kind       string `yaml:"kind"`
	CooldownMs int64  `yaml:"cooldownMs"`
	Enabled    *bool  `yaml:"enabled,omitempty"`

	// memory
	Address         uint32 `yaml:"address,omitempty"`
	Width           string `yaml:"width,omitempty"`
	Comparator      string `yaml:"comparator,omitempty"`
	CompareValue    *int64 `yaml:"compareValue,omitempty"`
	ChangeThreshold int64  `yaml:"changeThreshold,omitempty"`

	// text
	Pattern       string       `yaml:"pattern,omitempty"`
	IsRegex       bool         `yaml:"isRegex,omitempty"`
	CaseSensitive bool         `yaml:"caseSensitive,omitempty"`
	Region        *detect.Rect `yaml:"region,omitempty"`

	// image
	PatternRef          string  `yaml:"patternRef,omitempty"`
	SimilarityThreshold float64 `yaml:"similarityThreshold,omitempty"`
}

type ruleFile struct {
	ID        string     `yaml:"id"`
	EventType string     `yaml:"eventType"`
	Reward    rewardFile `yaml:"reward"`
	Condition Condition  `yaml:"condition,omitempty"`
	Enabled   *bool      `yaml:"enabled,omitempty"`
}

// rewardFile accepts either a number or {formula: name}.
type rewardFile Reward

func (r *rewardFile) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var f float64
		if err := value.Decode(&f); err != nil {
			return fmt.Errorf("line %d: reward must be a number or {formula: name}", value.Line)
		}
		*r = rewardFile{Fixed: f}
		return nil
	}
	var obj struct {
		Formula string `yaml:"formula"`
	}
	if err := value.Decode(&obj); err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	if obj.Formula == "" {
		return fmt.Errorf("line %d: reward object requires formula", value.Line)
	}
	*r = rewardFile{Formula: Formula(obj.Formula)}
	return nil
}

func enabled(b *bool) bool {
	return b == nil || *b
}

// Decode parses a profile. Image pattern references are file paths resolved
// against baseDir.
func Decode(data []byte, baseDir string) (*Profile, error) {
	var pf profileFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse profile: %w", err)
	}

	p := &Profile{
		Name:                    pf.Name,
		TitlePattern:            pf.TitlePattern,
		DefaultRewardForSilence: pf.DefaultRewardForSilence,
	}

	for i, df := range pf.Detectors {
		d, err := df.toDetector(baseDir)
		if err != nil {
			return nil, fmt.Errorf("detector %d (%s): %w", i, df.ID, err)
		}
		p.Detectors = append(p.Detectors, d)
	}

	for i, rf := range pf.RewardRules {
		id := rf.ID
		if id == "" {
			id = fmt.Sprintf("%s-%d", rf.EventType, i)
		}
		p.RewardRules = append(p.RewardRules, RewardRule{
			ID:        id,
			EventType: rf.EventType,
			Reward:    Reward(rf.Reward),
			Condition: rf.Condition,
			Enabled:   enabled(rf.Enabled),
		})
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (df detectorFile) toDetector(baseDir string) (detect.Detector, error) {
	common := detect.Common{
		ID:       df.ID,
		Cooldown: time.Duration(df.CooldownMs) * time.Millisecond,
		Enabled:  enabled(df.Enabled),
	}

	switch detect.Kind(df.Kind) {
	case detect.KindMemory:
		return &detect.MemoryDetector{
			Common:          common,
			Address:         df.Address,
			Width:           detect.Width(df.Width),
			Comparator:      detect.Comparator(df.Comparator),
			CompareValue:    df.CompareValue,
			ChangeThreshold: df.ChangeThreshold,
		}, nil
	case detect.KindText:
		return &detect.TextDetector{
			Common:        common,
			Pattern:       df.Pattern,
			IsRegex:       df.IsRegex,
			CaseSensitive: df.CaseSensitive,
			Region:        df.Region,
		}, nil
	case detect.KindImage:
		if df.PatternRef == "" {
			return nil, errors.New("patternRef is required")
		}
		path := df.PatternRef
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		ref, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read pattern: %w", err)
		}
		return &detect.ImageDetector{
			Common:              common,
			PatternRef:          ref,
			SimilarityThreshold: df.SimilarityThreshold,
			Region:              df.Region,
		}, nil
	case "":
		return nil, errors.New("kind is required")
	}
	return nil, fmt.Errorf("unknown kind %q", df.Kind)
}

// LoadFile reads one profile file.
func LoadFile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile %s: %w", path, err)
	}
	p, err := Decode(data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	p.Source = path
	return p, nil
}

// IsProfileFile reports whether path has a profile extension.
func IsProfileFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// LoadDir reads every profile in dir, in filename order. Files that fail
// are reported in the joined error; the others are still returned.
func LoadDir(dir string) ([]*Profile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read profiles dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !IsProfileFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var profiles []*Profile
	var errs []error
	for _, name := range names {
		p, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		profiles = append(profiles, p)
	}
	return profiles, errors.Join(errs...)
}
