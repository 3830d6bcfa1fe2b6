package storage

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/tatianab/trainer-tales/internal/models"
)

// Archiver keeps a copy of a document before it is deleted.
type Archiver interface {
	Archive(ctx context.Context, doc *models.Session) (string, error)
}

// DeleteCampaign deletes every session of a campaign, archiving each one
// first when archiver is non-nil. It returns how many sessions were deleted.
// A session whose archive fails is kept.
func DeleteCampaign(ctx context.Context, s Store, archiver Archiver, campaignID string) (int, error) {
	if campaignID == "" {
		return 0, fmt.Errorf("campaign id is required")
	}
	ids, err := s.List(ctx, campaignID)
	if err != nil {
		return 0, fmt.Errorf("list campaign %s: %w", campaignID, err)
	}

	var deleted atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, id := range ids {
		g.Go(func() error {
			if archiver != nil {
				doc, err := s.Load(ctx, id)
				if errors.Is(err, ErrNotFound) {
					return nil
				}
				if err != nil {
					return fmt.Errorf("load %s for archive: %w", id, err)
				}
				if _, err := archiver.Archive(ctx, doc); err != nil {
					return fmt.Errorf("archive %s: %w", id, err)
				}
			}
			ok, err := s.Delete(ctx, id)
			if err != nil {
				return fmt.Errorf("delete %s: %w", id, err)
			}
			if ok {
				deleted.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()
	return int(deleted.Load()), err
}
