// Package sweeper deletes accounts that have not been touched within the
// expiry horizon, and reclaims blobs and staging artifacts that no ledger
// refers to.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Fides-Storage/Server-sub000/internal/common"
	"github.com/Fides-Storage/Server-sub000/internal/logging"
	"github.com/Fides-Storage/Server-sub000/internal/server/blobstore"
	"github.com/Fides-Storage/Server-sub000/internal/server/models"
	"github.com/Fides-Storage/Server-sub000/internal/server/repositories/ledger"
	"github.com/Fides-Storage/Server-sub000/internal/server/userlock"
)

// maxStagingAge bounds how long an abandoned staging artifact survives.
const maxStagingAge = 24 * time.Hour

// Result counts what one sweep removed.
type Result struct {
	Accounts int
	Blobs    int
	Orphans  int
	Staging  int
	// Skipped counts expired accounts left alone because a session held
	// their lock.
	Skipped int
}

type Sweeper struct {
	ledger   ledger.Repository
	locker   userlock.Locker
	blobs    blobstore.Store
	logger   logging.Logger
	horizon  time.Duration
	interval time.Duration
	now      func() time.Time
}

func New(l ledger.Repository, lk userlock.Locker, blobs blobstore.Store, logger logging.Logger, horizon, interval time.Duration) *Sweeper {
	return &Sweeper{
		ledger:   l,
		locker:   lk,
		blobs:    blobs,
		logger:   logger.With("module", "sweeper"),
		horizon:  horizon,
		interval: interval,
		now:      time.Now,
	}
}

// Run sweeps once immediately and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		res, err := s.SweepOnce(ctx)
		if err != nil && ctx.Err() == nil {
			s.logger.Error(ctx, "sweep failed", "error", err)
		} else if err == nil {
			s.logger.Info(ctx, "sweep finished",
				"accounts", res.Accounts, "blobs", res.Blobs, "orphans", res.Orphans,
				"staging", res.Staging, "skipped", res.Skipped)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// SweepOnce runs a single pass. Errors on individual accounts or blobs are
// collected and returned joined; the pass carries on past them.
func (s *Sweeper) SweepOnce(ctx context.Context) (Result, error) {
	var (
		res  Result
		errs []error
	)
	now := s.now()
	cutoff := now.Add(-s.horizon)

	accounts, listErr := s.ledger.List(ctx)
	if listErr != nil {
		errs = append(errs, fmt.Errorf("list ledgers: %w", listErr))
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	live := make(map[string]struct{})
	for _, a := range accounts {
		if !a.LastTouched.Before(cutoff) {
			markLive(live, a)
			continue
		}
		deleted, err := s.expire(ctx, a.ID, cutoff, &res)
		if err != nil {
			errs = append(errs, err)
		}
		if !deleted {
			markLive(live, a)
		}
	}

	// An unreadable ledger may own any blob, so orphans are only reclaimed
	// after a clean listing.
	if listErr == nil {
		n, err := s.reclaimOrphans(ctx, live, cutoff)
		res.Orphans = n
		if err != nil {
			errs = append(errs, err)
		}
	}

	stagingCutoff := now.Add(-min(s.horizon, maxStagingAge))
	n, err := s.blobs.CleanStaging(ctx, stagingCutoff)
	res.Staging = n
	if err != nil {
		errs = append(errs, fmt.Errorf("clean staging: %w", err))
	}

	return res, errors.Join(errs...)
}

// expire deletes an account under its lock. It reports whether the account
// is gone; a held lock or a touch since the listing keeps it.
func (s *Sweeper) expire(ctx context.Context, accountID string, cutoff time.Time, res *Result) (bool, error) {
	tok, err := s.locker.Acquire(ctx, accountID)
	if errors.Is(err, common.ErrorLocked) {
		res.Skipped++
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lock %s: %w", accountID, err)
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), tok); err != nil {
			s.logger.Warn(ctx, "failed to release lock", "account_id", accountID, "error", err)
		}
	}()

	a, err := s.ledger.Load(ctx, accountID)
	if errors.Is(err, common.ErrorNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("reload %s: %w", accountID, err)
	}
	if !a.LastTouched.Before(cutoff) {
		return false, nil
	}

	if err := s.ledger.Delete(ctx, accountID); err != nil && !errors.Is(err, common.ErrorNotFound) {
		return false, fmt.Errorf("delete ledger %s: %w", accountID, err)
	}
	res.Accounts++
	s.logger.Info(ctx, "expired account deleted", "account_id", accountID, "last_touched", a.LastTouched)

	var errs []error
	for _, id := range accountBlobs(a) {
		ok, err := s.blobs.Delete(ctx, id)
		if err != nil {
			// left for the orphan pass
			errs = append(errs, fmt.Errorf("delete blob %s: %w", id, err))
			continue
		}
		if ok {
			res.Blobs++
		}
	}
	return true, errors.Join(errs...)
}

func (s *Sweeper) reclaimOrphans(ctx context.Context, live map[string]struct{}, cutoff time.Time) (int, error) {
	infos, err := s.blobs.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list blobs: %w", err)
	}
	var (
		n    int
		errs []error
	)
	for _, info := range infos {
		if _, ok := live[info.ID]; ok {
			continue
		}
		// recent blobs may belong to an upload whose ledger write is in flight
		if !info.ModTime.Before(cutoff) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return n, err
		}
		ok, err := s.blobs.Delete(ctx, info.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("delete orphan %s: %w", info.ID, err))
			continue
		}
		if ok {
			n++
			s.logger.Info(ctx, "orphan blob reclaimed", "blob_id", info.ID, "size", info.Size)
		}
	}
	return n, errors.Join(errs...)
}

func accountBlobs(a *models.Account) []string {
	ids := append([]string(nil), a.OwnedBlobs...)
	if a.KeyBlobID != "" {
		ids = append(ids, a.KeyBlobID)
	}
	return ids
}

func markLive(live map[string]struct{}, a *models.Account) {
	for _, id := range accountBlobs(a) {
		live[id] = struct{}{}
	}
}
