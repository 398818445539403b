package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ScoringCriterion is one named, described and weighted aspect of agent
// performance. A weight of 0 marks the criterion as informational only.
type ScoringCriterion struct {
	ID          string  `json:"id" yaml:"id"`
	Criterion   string  `json:"criterion" yaml:"criterion"`
	Description string  `json:"description" yaml:"description"`
	Weight      float64 `json:"weight" yaml:"weight"`
}

// CriterionPatch changes selected fields of a criterion. Nil fields are left alone.
type CriterionPatch struct {
	Criterion   *string  `json:"criterion,omitempty"`
	Description *string  `json:"description,omitempty"`
	Weight      *float64 `json:"weight,omitempty"`
}

// ScoringMatrix is the ordered set of criteria a call is scored against.
type ScoringMatrix []ScoringCriterion

// Add appends a criterion with a fresh id and weight 0 and returns it.
func (m *ScoringMatrix) Add(criterion, description string) ScoringCriterion {
	c := ScoringCriterion{
		ID:          uuid.New().String(),
		Criterion:   criterion,
		Description: description,
	}
	*m = append(*m, c)
	return c
}

// Update applies patch to the criterion with the given id.
func (m ScoringMatrix) Update(id string, patch CriterionPatch) error {
	i := m.index(id)
	if i < 0 {
		return fmt.Errorf("criterion not found: %s", id)
	}
	if patch.Criterion != nil {
		m[i].Criterion = *patch.Criterion
	}
	if patch.Description != nil {
		m[i].Description = *patch.Description
	}
	if patch.Weight != nil {
		if *patch.Weight < 0 {
			return fmt.Errorf("weight must be >= 0, got %v", *patch.Weight)
		}
		m[i].Weight = *patch.Weight
	}
	return nil
}

// Remove deletes the criterion with the given id, preserving order.
func (m *ScoringMatrix) Remove(id string) error {
	i := m.index(id)
	if i < 0 {
		return fmt.Errorf("criterion not found: %s", id)
	}
	*m = append((*m)[:i], (*m)[i+1:]...)
	return nil
}

// TotalWeight is the sum of all weights.
func (m ScoringMatrix) TotalWeight() float64 {
	var total float64
	for _, c := range m {
		total += c.Weight
	}
	return total
}

// Find returns the criterion whose name matches, ignoring case and
// surrounding whitespace.
func (m ScoringMatrix) Find(name string) (ScoringCriterion, bool) {
	key := NormalizeCriterion(name)
	for _, c := range m {
		if NormalizeCriterion(c.Criterion) == key {
			return c, true
		}
	}
	return ScoringCriterion{}, false
}

// Get returns the criterion with the given id.
func (m ScoringMatrix) Get(id string) (ScoringCriterion, bool) {
	if i := m.index(id); i >= 0 {
		return m[i], true
	}
	return ScoringCriterion{}, false
}

// Names returns criterion names in matrix order.
func (m ScoringMatrix) Names() []string {
	out := make([]string, len(m))
	for i, c := range m {
		out[i] = c.Criterion
	}
	return out
}

// Clone returns an independent copy.
func (m ScoringMatrix) Clone() ScoringMatrix {
	if m == nil {
		return nil
	}
	out := make(ScoringMatrix, len(m))
	copy(out, m)
	return out
}

func (m ScoringMatrix) index(id string) int {
	for i, c := range m {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// NormalizeCriterion is the key used to match score entries to criteria.
func NormalizeCriterion(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// Profile is a named scoring matrix persisted across sessions.
type Profile struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Matrix    ScoringMatrix `json:"matrix"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}
