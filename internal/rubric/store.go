package rubric

import "context"

// Store is durable storage for versioned rubrics.
//
// At most one rubric per question is active. The invariant is kept by Activate,
// not by a database constraint.
type Store interface {
	// FindActive returns the active rubric for the question, or nil.
	FindActive(ctx context.Context, questionID string) (*Rubric, error)
	// FindLatest returns the most recently created rubric, or nil.
	// Ties on created_at are broken by the greater id.
	FindLatest(ctx context.Context, questionID string) (*Rubric, error)
	// Save inserts a non-active rubric whose version comes from body.version
	// (auto-gen-v1 when absent). A duplicate (question, version) returns false, nil.
	Save(ctx context.Context, questionID string, body Body, createdBy string) (bool, error)
	// Activate makes rubricID the only active rubric of its question in one transaction.
	Activate(ctx context.Context, rubricID int64) error

	Get(ctx context.Context, rubricID int64) (Rubric, error)
	ListByQuestion(ctx context.Context, questionID string) ([]Rubric, error)
	// Create inserts a rubric and reports ErrDuplicateVersion instead of skipping.
	Create(ctx context.Context, questionID string, body Body, createdBy string) (Rubric, error)
	UpdateBody(ctx context.Context, rubricID int64, body Body) (Rubric, error)
}
