// Package playlist loads echo playlists from YAML files and reloads them when
// the file changes.
package playlist

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNoEntries is returned for a file that parses but lists nothing.
var ErrNoEntries = errors.New("playlist has no entries")

// File is the mapping form of a playlist file.
type File struct {
	Entries []string `yaml:"entries"`
}

// Load reads a playlist file. Both a top-level sequence and a mapping with an
// entries key are accepted. Blank entries are dropped.
func Load(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read playlist %s: %w", path, err)
	}
	entries, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse playlist %s: %w", path, err)
	}
	return entries, nil
}

// Parse decodes playlist YAML.
func Parse(data []byte) ([]string, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	if len(node.Content) == 0 {
		return nil, ErrNoEntries
	}

	var raw []string
	switch root := node.Content[0]; root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&raw); err != nil {
			return nil, err
		}
	case yaml.MappingNode:
		var f File
		if err := root.Decode(&f); err != nil {
			return nil, err
		}
		raw = f.Entries
	default:
		return nil, fmt.Errorf("expected a list or an entries mapping")
	}

	entries := make([]string, 0, len(raw))
	for _, e := range raw {
		if e = strings.TrimSpace(e); e != "" {
			entries = append(entries, e)
		}
	}
	if len(entries) == 0 {
		return nil, ErrNoEntries
	}
	return entries, nil
}
