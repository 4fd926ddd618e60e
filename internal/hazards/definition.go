// Package hazards loads hazard definitions from files and the database and
// builds guard registries from them.
package hazards

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/router-for-me/hazardguard/internal/guard"
	"github.com/router-for-me/hazardguard/internal/models"
	"github.com/router-for-me/hazardguard/internal/rules"
	"gorm.io/datatypes"
)

// Definition sources.
const (
	SourceFile = "file"
	SourceDB   = "db"
)

// Definition is a serializable hazard.
type Definition struct {
	Name       string     `yaml:"name" toml:"name" json:"name"`
	Type       string     `yaml:"type" toml:"type" json:"type"`
	Rule       rules.Spec `yaml:"rule" toml:"rule" json:"rule"`
	BucketSize int        `yaml:"bucket-size,omitempty" toml:"bucket-size" json:"bucket_size,omitempty"`
	BucketLeak float64    `yaml:"bucket-leak,omitempty" toml:"bucket-leak" json:"bucket_leak,omitempty"`
	Timeout    float64    `yaml:"timeout,omitempty" toml:"timeout" json:"timeout,omitempty"` // Seconds, fractions allowed.
	Source     string     `yaml:"-" toml:"-" json:"source,omitempty"`
}

// Hazard compiles the definition into a guard hazard.
func (d Definition) Hazard(clientKey guard.ClientKeyFunc) (guard.Hazard, error) {
	name := strings.TrimSpace(d.Name)
	hazardType, ok := guard.ParseHazardType(d.Type)
	if !ok {
		return guard.Hazard{}, &guard.InvalidHazardError{Name: name, Reason: fmt.Sprintf("type %q is not a valid hazard type", d.Type)}
	}
	rule, errCompile := rules.Compile(d.Rule, clientKey)
	if errCompile != nil {
		return guard.Hazard{}, &guard.InvalidHazardError{Name: name, Reason: errCompile.Error()}
	}
	return guard.Hazard{
		Name: name,
		Type: hazardType,
		Rule: rule,
		Options: guard.Options{
			BucketSize: d.BucketSize,
			BucketLeak: d.BucketLeak,
			Timeout:    time.Duration(d.Timeout * float64(time.Second)),
		},
	}, nil
}

// FromModel converts a database row.
func FromModel(row models.Hazard) (Definition, error) {
	var spec rules.Spec
	if len(row.Rule) > 0 {
		if errUnmarshal := json.Unmarshal(row.Rule, &spec); errUnmarshal != nil {
			return Definition{}, fmt.Errorf("hazards: decode rule of %s: %w", row.Name, errUnmarshal)
		}
	}
	return Definition{
		Name:       row.Name,
		Type:       row.Type,
		Rule:       spec,
		BucketSize: row.BucketSize,
		BucketLeak: row.BucketLeak,
		Timeout:    row.TimeoutSeconds,
		Source:     SourceDB,
	}, nil
}

// ApplyToModel copies the definition onto row.
func (d Definition) ApplyToModel(row *models.Hazard) error {
	raw, errMarshal := json.Marshal(d.Rule)
	if errMarshal != nil {
		return fmt.Errorf("hazards: encode rule: %w", errMarshal)
	}
	row.Name = strings.TrimSpace(d.Name)
	row.Type = strings.ToLower(strings.TrimSpace(d.Type))
	row.Rule = datatypes.JSON(raw)
	row.BucketSize = d.BucketSize
	row.BucketLeak = d.BucketLeak
	row.TimeoutSeconds = d.Timeout
	return nil
}
