// Package feedback validates human outcomes on suggestions and keeps the
// exactly-once feedback log.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/runger/prizm/internal/suggestions/model"
)

// MaxNoteLength bounds the free-text note attached to feedback.
const MaxNoteLength = 2000

var (
	// ErrInvalid is matched by every ValidationError.
	ErrInvalid = errors.New("invalid feedback")

	// ErrAlreadyRecorded is returned when a suggestion already has feedback.
	ErrAlreadyRecorded = errors.New("feedback already recorded for suggestion")
)

// ValidationError reports the offending field of a submission.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid feedback: %s: %s", e.Field, e.Message)
}

// Is reports whether target is ErrInvalid.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Submission is a human outcome as received from a caller.
type Submission struct {
	SuggestionID string        `json:"suggestion_id"`
	Outcome      model.Outcome `json:"outcome"`

	// OptionID names the option the human acted on. Empty means the
	// top-ranked option.
	OptionID string `json:"option_id,omitempty"`

	Rating  *int   `json:"rating,omitempty"`
	Note    string `json:"note,omitempty"`
	ActedOn *bool  `json:"acted_on,omitempty"`
}

// Validate checks the fields of a submission that do not depend on the
// suggestion it refers to.
func (s Submission) Validate() error {
	if strings.TrimSpace(s.SuggestionID) == "" {
		return invalid("suggestion_id", "is required")
	}
	if !s.Outcome.IsValid() {
		return invalid("outcome", "must be %q or %q, got %q", model.OutcomeAccepted, model.OutcomeRejected, s.Outcome)
	}
	if s.Rating != nil && (*s.Rating < 1 || *s.Rating > 5) {
		return invalid("rating", "must be between 1 and 5, got %d", *s.Rating)
	}
	if len(s.Note) > MaxNoteLength {
		return invalid("note", "exceeds %d characters", MaxNoteLength)
	}
	return nil
}

// Build resolves a submission against its suggestion into a FeedbackRecord.
// The record is attributed to the named option, or to the top-ranked one.
func Build(sub Submission, sg *model.Suggestion, id string, now time.Time) (model.FeedbackRecord, error) {
	if err := sub.Validate(); err != nil {
		return model.FeedbackRecord{}, err
	}
	if sg == nil || sg.ID != sub.SuggestionID {
		return model.FeedbackRecord{}, invalid("suggestion_id", "does not match suggestion")
	}

	var (
		opt   model.RankedOption
		found bool
	)
	if sub.OptionID != "" {
		opt, found = sg.Option(sub.OptionID)
		if !found {
			return model.FeedbackRecord{}, invalid("option_id", "%q is not ranked in suggestion %s", sub.OptionID, sg.ID)
		}
	} else {
		opt, found = sg.Top()
	}

	rec := model.FeedbackRecord{
		ID:           id,
		SuggestionID: sg.ID,
		ActionID:     sg.ActionID,
		Category:     sg.Category,
		Outcome:      sub.Outcome,
		Rating:       sub.Rating,
		Note:         sub.Note,
		ActedOn:      sub.ActedOn,
		CreatedAt:    now,
	}
	if found {
		rec.OptionID = opt.Option.ID
		rec.OptionType = opt.Option.Type
	}
	return rec, nil
}

// Repository persists feedback records.
type Repository interface {
	// Insert stores rec and returns ErrAlreadyRecorded if the suggestion
	// already has a record.
	Insert(ctx context.Context, rec model.FeedbackRecord) error
	BySuggestion(ctx context.Context, suggestionID string) (*model.FeedbackRecord, error)
	List(ctx context.Context, category model.Category, optionType string, limit int) ([]model.FeedbackRecord, error)
}

// Config configures a Log.
type Config struct {
	Repository Repository
	Now        func() time.Time
	NewID      func() string
	Logger     *slog.Logger
}

// Log is the exactly-once feedback log. Without a repository it keeps
// records in memory.
type Log struct {
	repo   Repository
	now    func() time.Time
	newID  func() string
	logger *slog.Logger

	mu     sync.Mutex
	memory map[string]model.FeedbackRecord
}

// NewLog creates a feedback log.
func NewLog(cfg Config) *Log {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Log{
		repo:   cfg.Repository,
		now:    cfg.Now,
		newID:  cfg.NewID,
		logger: cfg.Logger,
		memory: make(map[string]model.FeedbackRecord),
	}
}

// Build resolves sub against sg with a fresh id and timestamp.
func (l *Log) Build(sub Submission, sg *model.Suggestion) (model.FeedbackRecord, error) {
	return Build(sub, sg, l.newID(), l.now())
}

// Record appends rec to the log. A second record for the same suggestion
// fails with ErrAlreadyRecorded.
func (l *Log) Record(ctx context.Context, rec model.FeedbackRecord) error {
	if l.repo != nil {
		if err := l.repo.Insert(ctx, rec); err != nil {
			return err
		}
	} else {
		l.mu.Lock()
		if _, ok := l.memory[rec.SuggestionID]; ok {
			l.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrAlreadyRecorded, rec.SuggestionID)
		}
		l.memory[rec.SuggestionID] = rec
		l.mu.Unlock()
	}
	l.logger.Debug("recorded feedback",
		"id", rec.ID, "suggestion", rec.SuggestionID, "category", rec.Category,
		"option_type", rec.OptionType, "outcome", rec.Outcome)
	return nil
}

// Lookup returns the feedback recorded for a suggestion, if any.
func (l *Log) Lookup(ctx context.Context, suggestionID string) (*model.FeedbackRecord, error) {
	if l.repo != nil {
		return l.repo.BySuggestion(ctx, suggestionID)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.memory[suggestionID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// List returns recorded feedback, newest first. Empty filters match all.
func (l *Log) List(ctx context.Context, category model.Category, optionType string, limit int) ([]model.FeedbackRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	if l.repo != nil {
		return l.repo.List(ctx, category, optionType, limit)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.FeedbackRecord
	for _, rec := range l.memory {
		if (category == "" || rec.Category == category) && (optionType == "" || rec.OptionType == optionType) {
			out = append(out, rec)
		}
	}
	sortNewestFirst(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
