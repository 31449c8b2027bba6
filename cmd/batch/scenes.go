package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/phrazzld/scenegen/internal/batch"
)

// ErrUnsupportedFormat is returned for scene files with an unknown extension.
var ErrUnsupportedFormat = errors.New("unsupported scenes file format")

// SceneEntry is one prompt in a scenes file.
type SceneEntry struct {
	Prompt         string `json:"prompt"          yaml:"prompt"          toml:"prompt"          validate:"required"`
	NegativePrompt string `json:"negative_prompt" yaml:"negative_prompt" toml:"negative_prompt"`
	AspectRatio    string `json:"aspect_ratio"    yaml:"aspect_ratio"    toml:"aspect_ratio"    validate:"omitempty,oneof=1:1 3:4 4:3 9:16 16:9"`
	Context        string `json:"context"         yaml:"context"         toml:"context"`
}

// SceneFile is the document read by the batch command.
type SceneFile struct {
	Style  string       `json:"style"  yaml:"style"  toml:"style"`
	Scenes []SceneEntry `json:"scenes" yaml:"scenes" toml:"scenes" validate:"required,min=1,dive"`
}

// LoadSceneFile reads and validates a scenes file. The format follows the
// file extension.
func LoadSceneFile(path string) (*SceneFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenes file: %w", err)
	}
	return ParseSceneFile(data, filepath.Ext(path))
}

// ParseSceneFile decodes data in the format named by ext (".json", ".yaml",
// ".yml" or ".toml") and validates the result.
func ParseSceneFile(data []byte, ext string) (*SceneFile, error) {
	var file SceneFile
	var err error

	switch strings.ToLower(ext) {
	case ".json":
		err = json.Unmarshal(data, &file)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	case ".toml":
		err = toml.Unmarshal(data, &file)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode scenes file: %w", err)
	}

	for i := range file.Scenes {
		file.Scenes[i].Prompt = strings.TrimSpace(file.Scenes[i].Prompt)
	}
	if err := validator.New().Struct(&file); err != nil {
		return nil, fmt.Errorf("invalid scenes file: %w", err)
	}
	return &file, nil
}

// Prompts converts the file to orchestrator input, applying the file-level
// style to every scene.
func (f *SceneFile) Prompts() []batch.ScenePrompt {
	prompts := make([]batch.ScenePrompt, len(f.Scenes))
	for i, s := range f.Scenes {
		prompts[i] = batch.ScenePrompt{
			Text:           s.Prompt,
			NegativePrompt: s.NegativePrompt,
			AspectRatio:    s.AspectRatio,
			Style:          f.Style,
			Context:        s.Context,
		}
	}
	return prompts
}
