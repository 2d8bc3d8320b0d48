package activity

import (
	"context"

	"github.com/studyhall/xp-engine/xp"
)

//go:generate mockgen -source=source.go -destination=mocks/mock_source.go -package=mock_activity

// Source reads raw activity for one user from the system of record.
// Implementations apply the per-domain "completed" filters.
type Source interface {
	Flashcards(ctx context.Context, userID xp.UserID) ([]Flashcard, error)
	StudySessions(ctx context.Context, userID xp.UserID) ([]StudySession, error)
	Notes(ctx context.Context, userID xp.UserID) ([]Note, error)
	Goals(ctx context.Context, userID xp.UserID) ([]Goal, error)
	ReadingSessions(ctx context.Context, userID xp.UserID) ([]ReadingSession, error)
	FileUploads(ctx context.Context, userID xp.UserID) ([]FileUpload, error)
}

// EnrollmentSource reads course enrollments for module badges.
type EnrollmentSource interface {
	Enrollments(ctx context.Context, userID xp.UserID) ([]Enrollment, error)
}
