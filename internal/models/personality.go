package models

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Personality defaults used when a request does not name one.
const (
	DefaultPersonalityName = "Rimuru"
	DefaultGender          = "male"
	DefaultSourceMaterial  = "That Time I got Reincarnated as a Slime"

	// DefaultVoice is the synthesis profile for personalities without a trained voice.
	DefaultVoice = "default"
)

// supportedVoices have a fish-speech reference and an RVC model.
var supportedVoices = map[string]bool{
	"Rimuru":  true,
	"Frieren": true,
	"Gura":    true,
}

// Personality describes the character the agent plays. It only feeds prompt templates.
type Personality struct {
	Name                 string `yaml:"name" json:"personality"`
	Gender               string `yaml:"gender" json:"gender"`
	SourceMaterial       string `yaml:"sourceMaterial" json:"sourceMaterial"`
	AllowActionNarration bool   `yaml:"allowActionNarration" json:"allowActionNarration"`
}

// DefaultPersonality returns Rimuru Tempest.
func DefaultPersonality() Personality {
	return Personality{
		Name:           DefaultPersonalityName,
		Gender:         DefaultGender,
		SourceMaterial: DefaultSourceMaterial,
	}
}

// WithDefaults fills empty fields from DefaultPersonality.
func (p Personality) WithDefaults() Personality {
	d := DefaultPersonality()
	if p.Name == "" {
		p.Name = d.Name
	}
	if p.Gender == "" {
		p.Gender = d.Gender
	}
	if p.SourceMaterial == "" {
		p.SourceMaterial = d.SourceMaterial
	}
	return p
}

// Pronouns returns subject, object and possessive pronouns for the personality's gender.
func (p Personality) Pronouns() (subject, object, possessive string) {
	switch strings.ToLower(p.Gender) {
	case "male", "m", "he":
		return "he", "him", "his"
	case "female", "f", "she":
		return "she", "her", "her"
	default:
		return "they", "them", "their"
	}
}

// Voice returns the synthesis profile for the personality.
func (p Personality) Voice() string {
	if supportedVoices[p.Name] {
		return p.Name
	}
	return DefaultVoice
}

// Catalog holds named personalities, keyed case-insensitively.
type Catalog struct {
	byName map[string]Personality
}

type catalogFile struct {
	Personalities []Personality `yaml:"personalities"`
}

// NewCatalog returns a catalog seeded with the default personality.
func NewCatalog(extra ...Personality) *Catalog {
	c := &Catalog{byName: make(map[string]Personality)}
	c.add(DefaultPersonality())
	for _, p := range extra {
		c.add(p)
	}
	return c
}

// LoadCatalog reads personalities from a YAML file. An empty path yields the default catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return NewCatalog(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read personalities: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse personalities: %w", err)
	}

	for i, p := range file.Personalities {
		if strings.TrimSpace(p.Name) == "" {
			return nil, fmt.Errorf("personality %d: name is required", i)
		}
	}

	return NewCatalog(file.Personalities...), nil
}

func (c *Catalog) add(p Personality) {
	c.byName[strings.ToLower(p.Name)] = p.WithDefaults()
}

// Resolve builds the personality for a request. Known names start from the catalog entry;
// non-empty override fields win.
func (c *Catalog) Resolve(override Personality) Personality {
	base := DefaultPersonality()
	if override.Name != "" {
		if known, ok := c.byName[strings.ToLower(override.Name)]; ok {
			base = known
		} else {
			base = Personality{Name: override.Name, AllowActionNarration: override.AllowActionNarration}
		}
	}

	if override.Gender != "" {
		base.Gender = override.Gender
	}
	if override.SourceMaterial != "" {
		base.SourceMaterial = override.SourceMaterial
	}
	if override.AllowActionNarration {
		base.AllowActionNarration = true
	}
	return base.WithDefaults()
}

// Names lists the catalog's personality names.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.byName))
	for _, p := range c.byName {
		names = append(names, p.Name)
	}
	return names
}
