package encounter

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tatianab/trainer-tales/internal/models"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Profile is one opponent template.
type Profile struct {
	Name        string    `yaml:"name"`
	TrainerName string    `yaml:"trainer_name,omitempty"`
	Species     string    `yaml:"species"`
	Types       []string  `yaml:"types"`
	BaseStats   BaseStats `yaml:"base_stats"`
	Intro       string    `yaml:"intro"`

	species models.SpeciesRef
}

// BaseStats are species base values, scaled per level by ScaleStats.
type BaseStats struct {
	HP        int `yaml:"hp"`
	Attack    int `yaml:"attack"`
	Defense   int `yaml:"defense"`
	SpAttack  int `yaml:"sp_attack"`
	SpDefense int `yaml:"sp_defense"`
	Speed     int `yaml:"speed"`
}

// Catalog holds the opponent profiles per encounter kind.
type Catalog struct {
	Wild    []Profile `yaml:"wild"`
	Trainer []Profile `yaml:"trainer"`
}

// DefaultCatalog parses the embedded catalog.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalog)
}

// LoadCatalog reads a catalog from a YAML file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read encounter catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and checks a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse encounter catalog: %w", err)
	}
	if len(c.Wild) == 0 || len(c.Trainer) == 0 {
		return nil, fmt.Errorf("encounter catalog needs at least one wild and one trainer profile")
	}
	for _, list := range [][]Profile{c.Wild, c.Trainer} {
		for i := range list {
			p := &list[i]
			ref, err := models.ParseSpeciesRef(p.Species)
			if err != nil {
				return nil, fmt.Errorf("profile %q: %w", p.Name, err)
			}
			if ref.Kind != models.RefCanon {
				return nil, fmt.Errorf("profile %q: catalog species must be canon", p.Name)
			}
			if p.BaseStats.HP <= 0 || p.BaseStats.Attack <= 0 || p.BaseStats.Defense <= 0 ||
				p.BaseStats.SpAttack <= 0 || p.BaseStats.SpDefense <= 0 || p.BaseStats.Speed <= 0 {
				return nil, fmt.Errorf("profile %q: base stats must be positive", p.Name)
			}
			p.species = ref
		}
	}
	return &c, nil
}

func (c *Catalog) profiles(kind models.EncounterKind) []Profile {
	if kind == models.EncounterTrainer {
		return c.Trainer
	}
	return c.Wild
}
