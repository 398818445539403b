// Package matrix provides the default service-desk scoring matrix,
// validation, and YAML import/export of matrix profiles.
package matrix

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/joescharf/callsage/internal/apperr"
	"github.com/joescharf/callsage/internal/models"
)

// DefaultProfileName is the profile seeded with Defaults.
const DefaultProfileName = "default"

var defaults = models.ScoringMatrix{
	{ID: "1", Criterion: "1. Greeting & Introduction", Weight: 5,
		Description: "Greeted the caller professionally and warmly, introduced self by name and team/department, asked for and confirmed the caller's name and/or account/ID politely. Consider the sentiment and clear intent of the agent's opening remarks, even if specific words (like their name) are not perfectly transcribed."},
	{ID: "2", Criterion: "2. Communication Style", Weight: 10,
		Description: "Maintained a positive, professional tone of voice; spoke clearly and at an appropriate pace; avoided jargon and used language appropriate to the caller's understanding; demonstrated active listening (e.g. verbal nods, paraphrasing)."},
	{ID: "3", Criterion: "3. Issue Handling & Clarity", Weight: 20,
		Description: "Asked relevant, probing questions to understand the issue; repeated or summarised the issue back to confirm understanding; showed ownership and confidence in addressing the issue; provided clear instructions or updates on what is being done."},
	{ID: "4", Criterion: "4. Hold Procedure", Weight: 10,
		Description: "Asked permission before placing the caller on hold; explained the reason for the hold; thanked the caller when returning from hold; updated the caller on progress when returning. Score 5 if the caller was never placed on hold."},
	{ID: "5", Criterion: "5. Professionalism & Empathy", Weight: 15,
		Description: "Displayed empathy and patience throughout the call; handled frustration or difficult behaviour appropriately; did not interrupt or speak over the caller."},
	{ID: "6", Criterion: "6. Resolution & Next Steps", Weight: 15,
		Description: "Clearly explained the resolution or next steps; verified whether the issue was fully resolved to the caller's satisfaction; offered additional help before closing the call."},
	{ID: "7", Criterion: "7. Call Closure", Weight: 5,
		Description: "Summarised the call or resolution; closed the call politely and professionally; used the caller's name during wrap-up."},
	{ID: "8", Criterion: "8. Compliance & System Use", Weight: 20,
		Description: "Adhered to internal procedures and documentation: logged or updated the ticket appropriately during or after the call; followed internal procedures and security/compliance checks."},
}

// Defaults returns a fresh copy of the default eight-criterion matrix.
func Defaults() models.ScoringMatrix {
	return defaults.Clone()
}

// IsDefault reports whether a criterion id belongs to the default set.
func IsDefault(id string) bool {
	_, ok := defaults.Get(id)
	return ok
}

// ResetCustom drops every criterion that is not part of the default set and
// restores any missing default criteria, keeping default entries in their
// original order.
func ResetCustom(m models.ScoringMatrix) models.ScoringMatrix {
	out := make(models.ScoringMatrix, 0, len(defaults))
	for _, d := range defaults {
		if c, ok := m.Get(d.ID); ok {
			out = append(out, c)
			continue
		}
		out = append(out, d)
	}
	return out
}

// Validate checks the structural rules of a matrix. An empty matrix is
// valid to hold; generation rejects it separately.
func Validate(m models.ScoringMatrix) error {
	seenIDs := make(map[string]bool, len(m))
	seenNames := make(map[string]bool, len(m))
	for i, c := range m {
		field := fmt.Sprintf("scoring_matrix[%d]", i)
		if strings.TrimSpace(c.ID) == "" {
			return apperr.Invalid(field+".id", "id is required")
		}
		if seenIDs[c.ID] {
			return apperr.Invalid(field+".id", "duplicate id %q", c.ID)
		}
		seenIDs[c.ID] = true

		if strings.TrimSpace(c.Criterion) == "" {
			return apperr.Invalid(field+".criterion", "criterion name is required")
		}
		key := models.NormalizeCriterion(c.Criterion)
		if seenNames[key] {
			return apperr.Invalid(field+".criterion", "duplicate criterion %q", c.Criterion)
		}
		seenNames[key] = true

		if c.Weight < 0 {
			return apperr.Invalid(field+".weight", "weight must be >= 0, got %v", c.Weight)
		}
	}
	return nil
}

// File is the on-disk YAML representation of a profile.
type File struct {
	Profile  string               `yaml:"profile"`
	Criteria models.ScoringMatrix `yaml:"criteria"`
}

// LoadFile reads a profile from YAML. Criteria without ids get fresh ones.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read matrix file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse matrix file: %w", err)
	}

	var m models.ScoringMatrix
	for _, c := range f.Criteria {
		if c.ID == "" {
			m.Add(c.Criterion, c.Description)
			m[len(m)-1].Weight = c.Weight
			continue
		}
		m = append(m, c)
	}
	f.Criteria = m
	if f.Profile == "" {
		f.Profile = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := Validate(f.Criteria); err != nil {
		return nil, err
	}
	return &f, nil
}

// SaveFile writes a profile as YAML.
func SaveFile(path, profile string, m models.ScoringMatrix) error {
	data, err := yaml.Marshal(&File{Profile: profile, Criteria: m})
	if err != nil {
		return fmt.Errorf("encode matrix file: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create matrix directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write matrix file: %w", err)
	}
	return nil
}
