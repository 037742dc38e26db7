package services

import (
	"fmt"
	"os"

	"activity-rewards-system/models"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Catalog is the immutable, validated set of achievement definitions.
type Catalog struct {
	defs  []models.AchievementDefinition
	index map[string]int
}

type catalogFile struct {
	Achievements []models.AchievementDefinition `yaml:"achievements"`
}

// NewCatalog validates defs and freezes them in the given order.
func NewCatalog(defs []models.AchievementDefinition) (*Catalog, error) {
	c := &Catalog{
		defs:  make([]models.AchievementDefinition, 0, len(defs)),
		index: make(map[string]int, len(defs)),
	}
	for i, def := range defs {
		if def.Kind == models.KindMilestone && def.Metric == "" {
			def.Metric = models.MetricCount
		}
		if err := validate.Struct(def); err != nil {
			return nil, fmt.Errorf("catalog entry %d (%q): %w", i, def.ID, err)
		}
		if def.Kind == models.KindStreak {
			if def.Metric != "" {
				return nil, fmt.Errorf("catalog entry %q: metric is only valid for MILESTONE", def.ID)
			}
			if def.Threshold != float64(int(def.Threshold)) {
				return nil, fmt.Errorf("catalog entry %q: streak threshold must be a whole number of days", def.ID)
			}
		}
		if _, dup := c.index[def.ID]; dup {
			return nil, fmt.Errorf("catalog entry %q: duplicate id", def.ID)
		}
		c.index[def.ID] = len(c.defs)
		c.defs = append(c.defs, def)
	}
	return c, nil
}

// LoadCatalog reads a YAML catalog. An empty path yields the built-in catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return NewCatalog(models.DefaultCatalog)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	if len(file.Achievements) == 0 {
		return nil, fmt.Errorf("catalog %s has no achievements", path)
	}
	return NewCatalog(file.Achievements)
}

// All returns every definition in catalog order.
func (c *Catalog) All() []models.AchievementDefinition {
	out := make([]models.AchievementDefinition, len(c.defs))
	copy(out, c.defs)
	return out
}

// Active returns the active definitions in catalog order.
func (c *Catalog) Active() []models.AchievementDefinition {
	out := make([]models.AchievementDefinition, 0, len(c.defs))
	for _, def := range c.defs {
		if def.Active {
			out = append(out, def)
		}
	}
	return out
}

func (c *Catalog) Get(id string) (models.AchievementDefinition, bool) {
	i, ok := c.index[id]
	if !ok {
		return models.AchievementDefinition{}, false
	}
	return c.defs[i], true
}
