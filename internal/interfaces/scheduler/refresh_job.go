package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"

	"ledgerlink/internal/domain/link"
	"ledgerlink/internal/infrastructure/provider"
)

// RefreshJob refreshes every ACTIVE linked item for one user, keeping the
// provider-side credentials warm and surfacing broken ones early.
type RefreshJob struct {
	userID      int64
	linkService *link.Service
}

// NewRefreshJob creates a refresh job for a user.
func NewRefreshJob(userID int64, linkService *link.Service) *RefreshJob {
	return &RefreshJob{
		userID:      userID,
		linkService: linkService,
	}
}

// Execute refreshes the user's active items. A rejected credential is already
// marked ERROR by the service; it is counted but does not stop the remaining
// items from refreshing.
func (j *RefreshJob) Execute(ctx context.Context) error {
	items, err := j.linkService.ListItems(ctx, j.userID)
	if err != nil {
		return fmt.Errorf("failed to list items: %w", err)
	}

	refreshed, failed := 0, 0
	for _, item := range items {
		if item.Status != link.ItemActive {
			continue
		}

		if _, err := j.linkService.Refresh(ctx, j.userID, item.ID); err != nil {
			failed++
			if errors.Is(err, provider.ErrRejected) {
				log.Printf("Refresh job: Credential for item %s rejected (user %d)", item.ID, j.userID)
				continue
			}
			log.Printf("Refresh job: Failed to refresh item %s for user %d: %v", item.ID, j.userID, err)
			continue
		}
		refreshed++
	}

	if failed > 0 {
		return fmt.Errorf("refresh completed with %d failures (refreshed %d)", failed, refreshed)
	}

	log.Printf("Refresh job: Refreshed %d items for user %d", refreshed, j.userID)
	return nil
}

// UserID returns the user ID associated with this job.
func (j *RefreshJob) UserID() string {
	return strconv.FormatInt(j.userID, 10)
}

// Description returns a human-readable description of the job.
func (j *RefreshJob) Description() string {
	return fmt.Sprintf("Credential refresh for user %d", j.userID)
}
