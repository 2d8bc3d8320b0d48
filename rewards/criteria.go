package rewards

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// OUTCOME
// =============================================================================

type Outcome int

const (
	NotEarned Outcome = iota
	Earned
	// Skipped means the criteria cannot be judged from the facts at hand.
	Skipped
)

func (o Outcome) String() string {
	switch o {
	case Earned:
		return "earned"
	case Skipped:
		return "skipped"
	default:
		return "not_earned"
	}
}

// =============================================================================
// FACTS - What criteria are evaluated against
// =============================================================================

// Facts is the evaluation input, derived from one user's activity bundle.
// CompletedModules is only meaningful when ModulesKnown is true.
type Facts struct {
	Flashcards       int
	ReadingSeconds   int64
	CompletedModules int
	ModulesKnown     bool
}

// =============================================================================
// CRITERIA - Closed set of variants
// =============================================================================

// CriteriaType is the "type" discriminator in the stored JSON.
type CriteriaType string

const (
	CriteriaFlashcardCount CriteriaType = "flashcard_created"
	CriteriaStudyStreak    CriteriaType = "study_streak"
	CriteriaModuleCount    CriteriaType = "module_completed"
	CriteriaReadingHours   CriteriaType = "reading_time"
)

// Criteria decides whether a badge is earned. The interface is sealed: only
// the variants in this file implement it.
type Criteria interface {
	Type() CriteriaType
	Evaluate(f Facts) Outcome
	criteria()
}

// FlashcardCount is earned once the user has created Count flashcards.
type FlashcardCount struct {
	Count int
}

func (FlashcardCount) Type() CriteriaType { return CriteriaFlashcardCount }
func (FlashcardCount) criteria()          {}

func (c FlashcardCount) Evaluate(f Facts) Outcome {
	return earnedIf(f.Flashcards >= c.Count)
}

// StudyStreak needs day-by-day continuity that synthesized history does not
// carry, so it is always skipped here.
type StudyStreak struct {
	Days int
}

func (StudyStreak) Type() CriteriaType     { return CriteriaStudyStreak }
func (StudyStreak) criteria()              {}
func (StudyStreak) Evaluate(Facts) Outcome { return Skipped }

// ModuleCount is earned once Count enrollments are completed.
type ModuleCount struct {
	Count int
}

func (ModuleCount) Type() CriteriaType { return CriteriaModuleCount }
func (ModuleCount) criteria()          {}

func (c ModuleCount) Evaluate(f Facts) Outcome {
	if !f.ModulesKnown {
		return Skipped
	}
	return earnedIf(f.CompletedModules >= c.Count)
}

// ReadingHours is earned once total reading time reaches Hours.
type ReadingHours struct {
	Hours decimal.Decimal
}

var secondsPerHour = decimal.NewFromInt(3600)

func (ReadingHours) Type() CriteriaType { return CriteriaReadingHours }
func (ReadingHours) criteria()          {}

func (c ReadingHours) Evaluate(f Facts) Outcome {
	hours := decimal.NewFromInt(f.ReadingSeconds).Div(secondsPerHour)
	return earnedIf(hours.GreaterThanOrEqual(c.Hours))
}

// Unsupported is any criteria this engine does not understand. Never earned.
type Unsupported struct {
	Kind   CriteriaType
	Reason string
}

func (u Unsupported) Type() CriteriaType   { return u.Kind }
func (Unsupported) criteria()              {}
func (Unsupported) Evaluate(Facts) Outcome { return NotEarned }

func earnedIf(ok bool) Outcome {
	if ok {
		return Earned
	}
	return NotEarned
}

// =============================================================================
// JSON
// =============================================================================

var ErrInvalidCriteria = errors.New("invalid badge criteria")

type criteriaJSON struct {
	Type  CriteriaType `json:"type"`
	Count *int         `json:"count,omitempty"`
	Hours json.Number  `json:"hours,omitempty"`
}

// ParseCriteria decodes stored criteria JSON. Unknown types decode to
// Unsupported without error; malformed known types are an error.
func ParseCriteria(data []byte) (Criteria, error) {
	var raw criteriaJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCriteria, err)
	}

	switch raw.Type {
	case CriteriaFlashcardCount, CriteriaStudyStreak, CriteriaModuleCount:
		if raw.Count == nil || *raw.Count < 0 {
			return nil, fmt.Errorf("%w: %s needs a non-negative count", ErrInvalidCriteria, raw.Type)
		}
		switch raw.Type {
		case CriteriaFlashcardCount:
			return FlashcardCount{Count: *raw.Count}, nil
		case CriteriaStudyStreak:
			return StudyStreak{Days: *raw.Count}, nil
		default:
			return ModuleCount{Count: *raw.Count}, nil
		}

	case CriteriaReadingHours:
		if raw.Hours == "" {
			return nil, fmt.Errorf("%w: %s needs hours", ErrInvalidCriteria, raw.Type)
		}
		hours, err := decimal.NewFromString(raw.Hours.String())
		if err != nil || hours.IsNegative() {
			return nil, fmt.Errorf("%w: bad hours %q", ErrInvalidCriteria, raw.Hours)
		}
		return ReadingHours{Hours: hours}, nil

	case "":
		return nil, fmt.Errorf("%w: missing type", ErrInvalidCriteria)

	default:
		return Unsupported{Kind: raw.Type, Reason: "unknown criteria type"}, nil
	}
}

// DecodeCriteria is ParseCriteria for stored rows: a malformed value becomes
// Unsupported so one bad badge cannot block evaluation of the others.
func DecodeCriteria(data []byte) Criteria {
	c, err := ParseCriteria(data)
	if err != nil {
		var raw struct {
			Type CriteriaType `json:"type"`
		}
		_ = json.Unmarshal(data, &raw)
		return Unsupported{Kind: raw.Type, Reason: err.Error()}
	}
	return c
}

// MarshalCriteria encodes criteria in the stored JSON shape.
func MarshalCriteria(c Criteria) ([]byte, error) {
	raw := criteriaJSON{Type: c.Type()}
	switch v := c.(type) {
	case FlashcardCount:
		raw.Count = &v.Count
	case StudyStreak:
		raw.Count = &v.Days
	case ModuleCount:
		raw.Count = &v.Count
	case ReadingHours:
		raw.Hours = json.Number(v.Hours.String())
	case Unsupported:
	}
	return json.Marshal(raw)
}
