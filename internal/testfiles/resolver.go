package testfiles

import (
	"context"
	"fmt"

	"testtrack/server/internal/models"

	"gorm.io/gorm"
)

// Outcome of a duplicate check
type Outcome string

const (
	Allow             Outcome = "allow"
	RejectSameSprint  Outcome = "reject_same_sprint"
	RejectOtherSprint Outcome = "reject_other_sprint"
)

// Resolution describes what the resolver decided and why
type Resolution struct {
	Outcome            Outcome
	Existing           *models.TestFile
	ExistingSprintID   string
	ExistingSprintName string
}

// Resolver decides whether an original filename may be uploaded to a sprint.
// It only reads; the unique index on active original filenames is what
// actually prevents duplicates.
type Resolver struct {
	db *gorm.DB
}

// NewResolver creates a new duplicate resolver
func NewResolver(db *gorm.DB) *Resolver {
	return &Resolver{db: db}
}

// Resolve checks originalFilename against active test files. Update requests
// target a known record and are always allowed.
func (r *Resolver) Resolve(ctx context.Context, originalFilename, targetSprintID string, isUpdate bool) (Resolution, error) {
	if isUpdate {
		return Resolution{Outcome: Allow}, nil
	}
	return r.check(ctx, originalFilename, targetSprintID, "")
}

// check is Resolve without the update bypass; rows with id excludeID are ignored
func (r *Resolver) check(ctx context.Context, originalFilename, targetSprintID, excludeID string) (Resolution, error) {
	query := r.db.WithContext(ctx).
		Preload("Sprint").
		Where("original_filename = ? AND status <> ?", originalFilename, models.StatusDeleted)
	if excludeID != "" {
		query = query.Where("id <> ?", excludeID)
	}

	var existing []models.TestFile
	if err := query.Order("upload_date ASC").Find(&existing).Error; err != nil {
		return Resolution{}, fmt.Errorf("failed to look up duplicates: %w", err)
	}

	if len(existing) == 0 {
		return Resolution{Outcome: Allow}, nil
	}

	for i := range existing {
		if existing[i].SprintID == targetSprintID {
			return resolutionFor(RejectSameSprint, &existing[i]), nil
		}
	}
	return resolutionFor(RejectOtherSprint, &existing[0]), nil
}

func resolutionFor(outcome Outcome, file *models.TestFile) Resolution {
	res := Resolution{
		Outcome:          outcome,
		Existing:         file,
		ExistingSprintID: file.SprintID,
	}
	if file.Sprint != nil {
		res.ExistingSprintName = file.Sprint.Name
	}
	return res
}
