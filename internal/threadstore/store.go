// Package threadstore persists conversation threads, messages,
// citations, and usage records.
package threadstore

import (
	"context"
	"time"

	"github.com/haasonsaas/parley/internal/apperr"
	"github.com/haasonsaas/parley/pkg/models"
)

// Store errors.
var (
	ErrThreadNotFound  = apperr.New(apperr.KindNotFound, "THREAD_NOT_FOUND", "thread not found")
	ErrMessageNotFound = apperr.New(apperr.KindNotFound, "MESSAGE_NOT_FOUND", "message not found")
)

// ListOptions page through a user's threads.
type ListOptions struct {
	// Offset and Size bound the page. Size is clamped to 100; zero means
	// the default of 20.
	Offset int
	Size   int

	// Search filters by case-insensitive title substring.
	Search string
}

func (o *ListOptions) normalize() {
	if o.Size <= 0 {
		o.Size = 20
	}
	if o.Size > 100 {
		o.Size = 100
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}

// Store is the thread repository. Soft-deleted threads are invisible to
// every read, along with their messages and citations.
type Store interface {
	// SaveThread creates or updates a thread and bumps UpdatedAt.
	SaveThread(ctx context.Context, thread *models.Thread) error

	// GetThread returns a live thread owned by the tenant.
	GetThread(ctx context.Context, tenantID, id string) (*models.Thread, error)

	// ListThreads returns the user's live threads, most recently updated
	// first, plus the total count before paging.
	ListThreads(ctx context.Context, tenantID, userID string, opts ListOptions) ([]*models.Thread, int, error)

	// SoftDeleteThread hides the thread and everything on it.
	SoftDeleteThread(ctx context.Context, tenantID, id string) error

	// SaveMessage appends one message to a thread.
	SaveMessage(ctx context.Context, msg *models.Message) error

	// GetMessage returns one message on a thread.
	GetMessage(ctx context.Context, threadID, id string) (*models.Message, error)

	// ListMessagesByThread returns messages oldest first. A limit above
	// zero keeps only the most recent messages.
	ListMessagesByThread(ctx context.Context, threadID string, limit int) ([]*models.Message, error)

	// DeleteMessagesAfter removes the assistant messages created after
	// the given one, together with their citations. Other roles stay.
	// Used by regeneration.
	DeleteMessagesAfter(ctx context.Context, threadID, messageID string) error

	// CountUserMessagesSince counts a user's messages across the
	// tenant's threads since the cutoff.
	CountUserMessagesSince(ctx context.Context, tenantID, userID string, since time.Time) (int, error)

	// SaveCitations stores citation rows for an assistant message.
	SaveCitations(ctx context.Context, citations []models.Citation) error

	// SaveUsage accumulates tokens and cost into the day bucket.
	SaveUsage(ctx context.Context, usage *models.UsageRecord) error

	// ListUsageByDay returns every tenant's usage rows for one UTC day
	// bucket, ordered by tenant then model.
	ListUsageByDay(ctx context.Context, day time.Time) ([]*models.UsageRecord, error)

	// SaveAssistantTurn persists the assistant message, its citations,
	// and the usage record as one unit. Either all three land or none;
	// usage is therefore billed at most once per generated turn.
	SaveAssistantTurn(ctx context.Context, msg *models.Message, citations []models.Citation, usage *models.UsageRecord) error
}
