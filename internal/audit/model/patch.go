package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrValidation is returned when the caller supplies an invalid update.
// Handlers map it to HTTP 400.
type ErrValidation struct{ Msg string }

func (e *ErrValidation) Error() string { return e.Msg }

// AuditPatch is the explicit set of fields a caller may change on an audit,
// either while it is a draft or as part of completing it. Nil fields are left
// untouched.
type AuditPatch struct {
	Title   *string     `json:"title,omitempty"`
	TypeKey *string     `json:"type_key,omitempty"`
	State   State       `json:"state,omitempty"`
	Stats   *StatsPatch `json:"stats,omitempty"`
}

// StatsPatch updates individual statistics.
type StatsPatch struct {
	Total           *int     `json:"total,omitempty"`
	Completed       *int     `json:"completed,omitempty"`
	Passed          *int     `json:"passed,omitempty"`
	Partial         *int     `json:"partial,omitempty"`
	Failed          *int     `json:"failed,omitempty"`
	CriticalFailed  *int     `json:"critical_failed,omitempty"`
	Progress        *float64 `json:"progress,omitempty"`
	TotalCritical   *int     `json:"total_critical,omitempty"`
	TotalCheckboxes *int     `json:"total_checkboxes,omitempty"`
	ScorePercentage *float64 `json:"score_percentage,omitempty"`
	Concept         *string  `json:"concept,omitempty"`
	ConceptColor    *string  `json:"concept_color,omitempty"`
}

// DecodePatch reads an AuditPatch from r. Unknown fields are rejected and
// numbers inside state keep their literal form. An empty body is an empty
// patch.
func DecodePatch(r io.Reader) (*AuditPatch, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read patch: %w", err)
	}
	var p AuditPatch
	if len(bytes.TrimSpace(body)) == 0 {
		return &p, nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return nil, &ErrValidation{Msg: "invalid patch: " + err.Error()}
	}
	if dec.More() {
		return nil, &ErrValidation{Msg: "invalid patch: trailing data after JSON object"}
	}
	return &p, nil
}

// Validate checks every supplied field.
func (p *AuditPatch) Validate() error {
	if p == nil {
		return nil
	}
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return &ErrValidation{Msg: "title must not be blank"}
	}
	if p.TypeKey != nil && strings.TrimSpace(*p.TypeKey) == "" {
		return &ErrValidation{Msg: "type_key must not be blank"}
	}
	if p.Stats != nil {
		if err := p.Stats.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (s *StatsPatch) validate() error {
	counts := map[string]*int{
		"total":            s.Total,
		"completed":        s.Completed,
		"passed":           s.Passed,
		"partial":          s.Partial,
		"failed":           s.Failed,
		"critical_failed":  s.CriticalFailed,
		"total_critical":   s.TotalCritical,
		"total_checkboxes": s.TotalCheckboxes,
	}
	for name, v := range counts {
		if v != nil && *v < 0 {
			return &ErrValidation{Msg: fmt.Sprintf("stats.%s must not be negative", name)}
		}
	}
	for name, v := range map[string]*float64{"progress": s.Progress, "score_percentage": s.ScorePercentage} {
		if v != nil && (*v < 0 || *v > 100) {
			return &ErrValidation{Msg: fmt.Sprintf("stats.%s must be between 0 and 100", name)}
		}
	}
	if s.Concept != nil && strings.TrimSpace(*s.Concept) == "" {
		return &ErrValidation{Msg: "stats.concept must not be blank"}
	}
	if s.ConceptColor != nil && strings.TrimSpace(*s.ConceptColor) == "" {
		return &ErrValidation{Msg: "stats.concept_color must not be blank"}
	}
	return nil
}

// Apply copies the supplied fields onto a. State is replaced as a whole.
func (p *AuditPatch) Apply(a *Audit) {
	if p == nil || a == nil {
		return
	}
	if p.Title != nil {
		a.Title = strings.TrimSpace(*p.Title)
	}
	if p.TypeKey != nil {
		a.TypeKey = strings.TrimSpace(*p.TypeKey)
	}
	if p.State != nil {
		a.State = p.State
	}
	if s := p.Stats; s != nil {
		setInt(&a.Stats.Total, s.Total)
		setInt(&a.Stats.Completed, s.Completed)
		setInt(&a.Stats.Passed, s.Passed)
		setInt(&a.Stats.Partial, s.Partial)
		setInt(&a.Stats.Failed, s.Failed)
		setInt(&a.Stats.CriticalFailed, s.CriticalFailed)
		setInt(&a.Stats.TotalCritical, s.TotalCritical)
		setInt(&a.Stats.TotalCheckboxes, s.TotalCheckboxes)
		if s.Progress != nil {
			a.Stats.Progress = *s.Progress
		}
		if s.ScorePercentage != nil {
			a.Stats.ScorePercentage = *s.ScorePercentage
		}
		if s.Concept != nil {
			a.Stats.Concept = *s.Concept
		}
		if s.ConceptColor != nil {
			a.Stats.ConceptColor = *s.ConceptColor
		}
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

// IsValidation reports whether err is an *ErrValidation.
func IsValidation(err error) bool {
	var v *ErrValidation
	return errors.As(err, &v)
}
