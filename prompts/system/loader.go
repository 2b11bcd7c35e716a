// Package system embeds the builtin system prompts shipped with gamepilot.
package system

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed manifest.yaml
var embeddedManifest string

//go:embed default.md
var embeddedDefault string

//go:embed explorer.md
var embeddedExplorer string

//go:embed cautious.md
var embeddedCautious string

// promptFiles maps filenames to their embedded content.
var promptFiles = map[string]string{
	"default.md":  embeddedDefault,
	"explorer.md": embeddedExplorer,
	"cautious.md": embeddedCautious,
}

// Entry is one builtin prompt in the manifest.
type Entry struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	File        string `yaml:"file"`
}

// Manifest lists the builtin prompts in display order.
type Manifest struct {
	Prompts []Entry `yaml:"prompts"`
}

// Builtin is a loaded builtin prompt.
type Builtin struct {
	Entry
	Body string
}

// LoadManifest parses the embedded manifest YAML.
func LoadManifest() (*Manifest, error) {
	var manifest Manifest
	if err := yaml.Unmarshal([]byte(embeddedManifest), &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse system prompt manifest: %w", err)
	}
	return &manifest, nil
}

// LoadBuiltins returns every builtin prompt in manifest order.
func LoadBuiltins() ([]Builtin, error) {
	manifest, err := LoadManifest()
	if err != nil {
		return nil, err
	}

	builtins := make([]Builtin, 0, len(manifest.Prompts))
	for _, entry := range manifest.Prompts {
		body, ok := promptFiles[entry.File]
		if !ok {
			return nil, fmt.Errorf("prompt file %q not found for prompt %q", entry.File, entry.ID)
		}
		builtins = append(builtins, Builtin{Entry: entry, Body: body})
	}
	return builtins, nil
}
