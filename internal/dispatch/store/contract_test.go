package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/dispatch-be/internal/dispatch/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testProvider(id string) *domain.ProviderProfile {
	return &domain.ProviderProfile{
		ID:                     id,
		UserID:                 "user-" + id,
		DisplayName:            "Provider " + id,
		Phone:                  domain.Ptr("555-0199"),
		ServiceTypes:           []string{"junk_removal"},
		Languages:              []string{"en"},
		Tier:                   domain.TierIndependent,
		IsAvailable:            true,
		HasPaymentMethodOnFile: true,
		BackgroundCheckStatus:  domain.BackgroundCheckClear,
		NDAAccepted:            true,
		CanAcceptJobs:          true,
		HourlyRate:             domain.Dollars(40),
		LastKnown:              &domain.Location{Lat: 37.78, Lng: -122.41},
		CreatedAt:              t0,
		UpdatedAt:              t0,
	}
}

func testJob(id, customer string, created time.Time) *domain.Job {
	expires := created.Add(60 * time.Second)
	return &domain.Job{
		ID:                id,
		Status:            domain.JobStatusMatching,
		CustomerID:        customer,
		CustomerPhone:     domain.Ptr("555-0100"),
		ServiceType:       "junk_removal",
		LoadSize:          "half",
		Pickup:            domain.Location{Lat: 37.7749, Lng: -122.4194},
		PriceEstimate:     domain.Dollars(200),
		LivePrice:         domain.Dollars(200),
		PaymentStatus:     domain.PaymentStatusNone,
		ContactState:      domain.ContactNotRequired,
		MatchingStartedAt: &created,
		MatchingExpiresAt: &expires,
		CreatedAt:         created,
		UpdatedAt:         created,
	}
}

func mustTx(t *testing.T, s Store, fn func(tx Tx) error) {
	t.Helper()
	require.NoError(t, s.RunInTx(context.Background(), fn))
}

// runContract exercises behaviour every Store implementation must share.
func runContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("job round trip and compare-and-set", func(t *testing.T) {
		s := newStore(t)
		mustTx(t, s, func(tx Tx) error {
			if err := tx.CreateProvider(ctx, testProvider("p1")); err != nil {
				return err
			}
			return tx.CreateJob(ctx, testJob("j1", "c1", t0))
		})

		mustTx(t, s, func(tx Tx) error {
			require.NoError(t, tx.LockJob(ctx, "j1"))
			job, err := tx.GetJob(ctx, "j1")
			require.NoError(t, err)
			assert.Equal(t, "555-0100", *job.CustomerPhone)
			assert.Equal(t, domain.Dollars(200), job.LivePrice)
			assert.Nil(t, job.FinalAmount)

			job.Status = domain.JobStatusAssigned
			job.AssignedProviderID = domain.Ptr("p1")
			job.FinalAmount = domain.Ptr(domain.Dollars(230))
			return tx.UpdateJob(ctx, job, domain.JobStatusMatching)
		})

		err := s.RunInTx(ctx, func(tx Tx) error {
			job, err := tx.GetJob(ctx, "j1")
			require.NoError(t, err)
			return tx.UpdateJob(ctx, job, domain.JobStatusMatching)
		})
		assert.ErrorIs(t, err, domain.ErrConflict)

		mustTx(t, s, func(tx Tx) error {
			job, err := tx.GetJob(ctx, "j1")
			require.NoError(t, err)
			assert.Equal(t, domain.JobStatusAssigned, job.Status)
			assert.Equal(t, domain.Dollars(230), *job.FinalAmount)
			return nil
		})
	})

	t.Run("missing rows are not found", func(t *testing.T) {
		s := newStore(t)
		err := s.RunInTx(ctx, func(tx Tx) error {
			_, err := tx.GetJob(ctx, "nope")
			return err
		})
		assert.ErrorIs(t, err, domain.ErrNotFound)

		err = s.RunInTx(ctx, func(tx Tx) error {
			return tx.UpdateMatchAttemptStatus(ctx, "nope", domain.AttemptPending, domain.AttemptAccepted, t0)
		})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("failed transaction leaves no trace", func(t *testing.T) {
		s := newStore(t)
		boom := errors.New("boom")
		err := s.RunInTx(ctx, func(tx Tx) error {
			require.NoError(t, tx.CreateJob(ctx, testJob("j1", "c1", t0)))
			return boom
		})
		assert.ErrorIs(t, err, boom)

		err = s.RunInTx(ctx, func(tx Tx) error {
			_, err := tx.GetJob(ctx, "j1")
			return err
		})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("failed transaction restores updated rows", func(t *testing.T) {
		s := newStore(t)
		mustTx(t, s, func(tx Tx) error {
			if err := tx.CreateProvider(ctx, testProvider("p1")); err != nil {
				return err
			}
			if err := tx.CreateJob(ctx, testJob("j1", "c1", t0)); err != nil {
				return err
			}
			return tx.CreateMatchAttempts(ctx, []domain.MatchAttempt{{
				ID: "a1", JobID: "j1", ProviderID: "p1", Status: domain.AttemptPending,
				QuotedPrice: domain.Dollars(200), Rank: 1, ExpiresAt: t0.Add(5 * time.Minute), CreatedAt: t0,
			}})
		})

		boom := errors.New("boom")
		err := s.RunInTx(ctx, func(tx Tx) error {
			job, err := tx.GetJob(ctx, "j1")
			require.NoError(t, err)
			job.Status = domain.JobStatusWithdrawn
			require.NoError(t, tx.UpdateJob(ctx, job, domain.JobStatusMatching))

			require.NoError(t, tx.LockProvider(ctx, "p1"))
			p, err := tx.GetProvider(ctx, "p1")
			require.NoError(t, err)
			p.BackgroundCheckStatus = domain.BackgroundCheckRejected
			require.NoError(t, tx.UpdateProvider(ctx, p))

			n, err := tx.ExpireMatchAttempts(ctx, "j1", "", t0)
			require.NoError(t, err)
			require.Equal(t, 1, n)
			return boom
		})
		assert.ErrorIs(t, err, boom)

		mustTx(t, s, func(tx Tx) error {
			job, err := tx.GetJob(ctx, "j1")
			require.NoError(t, err)
			assert.Equal(t, domain.JobStatusMatching, job.Status)

			p, err := tx.GetProvider(ctx, "p1")
			require.NoError(t, err)
			assert.Equal(t, domain.BackgroundCheckClear, p.BackgroundCheckStatus)

			a, err := tx.GetMatchAttempt(ctx, "a1")
			require.NoError(t, err)
			assert.Equal(t, domain.AttemptPending, a.Status)
			assert.Nil(t, a.RespondedAt)
			return nil
		})
	})

	t.Run("lock provider", func(t *testing.T) {
		s := newStore(t)
		mustTx(t, s, func(tx Tx) error { return tx.CreateProvider(ctx, testProvider("p1")) })
		mustTx(t, s, func(tx Tx) error { return tx.LockProvider(ctx, "p1") })

		err := s.RunInTx(ctx, func(tx Tx) error { return tx.LockProvider(ctx, "nope") })
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("duplicate provider user is a conflict", func(t *testing.T) {
		s := newStore(t)
		mustTx(t, s, func(tx Tx) error { return tx.CreateProvider(ctx, testProvider("p1")) })

		dup := testProvider("p2")
		dup.UserID = "user-p1"
		err := s.RunInTx(ctx, func(tx Tx) error { return tx.CreateProvider(ctx, dup) })
		assert.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("candidate providers", func(t *testing.T) {
		s := newStore(t)
		off := testProvider("p2")
		off.IsAvailable = false
		blocked := testProvider("p3")
		blocked.CanAcceptJobs = false
		plumber := testProvider("p4")
		plumber.ServiceTypes = []string{"plumbing"}
		plumber.LastKnown = nil

		mustTx(t, s, func(tx Tx) error {
			for _, p := range []*domain.ProviderProfile{testProvider("p1"), off, blocked, plumber} {
				if err := tx.CreateProvider(ctx, p); err != nil {
					return err
				}
			}
			return nil
		})

		mustTx(t, s, func(tx Tx) error {
			got, err := tx.ListCandidateProviders(ctx, "junk_removal")
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "p1", got[0].ID)
			require.NotNil(t, got[0].LastKnown)
			assert.InDelta(t, 37.78, got[0].LastKnown.Lat, 1e-9)

			p4, err := tx.GetProvider(ctx, "p4")
			require.NoError(t, err)
			assert.Nil(t, p4.LastKnown)
			assert.Equal(t, []string{"plumbing"}, p4.ServiceTypes)
			return nil
		})
	})

	t.Run("match attempts", func(t *testing.T) {
		s := newStore(t)
		mustTx(t, s, func(tx Tx) error {
			for _, id := range []string{"p1", "p2", "p3"} {
				if err := tx.CreateProvider(ctx, testProvider(id)); err != nil {
					return err
				}
			}
			if err := tx.CreateJob(ctx, testJob("j1", "c1", t0)); err != nil {
				return err
			}
			var attempts []domain.MatchAttempt
			for i, p := range []string{"p1", "p2", "p3"} {
				attempts = append(attempts, domain.MatchAttempt{
					ID:          fmt.Sprintf("a%d", i+1),
					JobID:       "j1",
					ProviderID:  p,
					Status:      domain.AttemptPending,
					QuotedPrice: domain.Dollars(200),
					EtaMinutes:  20,
					Rank:        i + 1,
					ExpiresAt:   t0.Add(5 * time.Minute),
					CreatedAt:   t0,
				})
			}
			return tx.CreateMatchAttempts(ctx, attempts)
		})

		mustTx(t, s, func(tx Tx) error {
			offers, err := tx.ListProviderOffers(ctx, "p2", t0.Add(time.Minute))
			require.NoError(t, err)
			require.Len(t, offers, 1)

			expired, err := tx.ListProviderOffers(ctx, "p2", t0.Add(10*time.Minute))
			require.NoError(t, err)
			assert.Empty(t, expired)

			require.NoError(t, tx.UpdateMatchAttemptStatus(ctx, "a2", domain.AttemptPending, domain.AttemptAccepted, t0.Add(time.Minute)))
			n, err := tx.ExpireMatchAttempts(ctx, "j1", "a2", t0.Add(time.Minute))
			require.NoError(t, err)
			assert.Equal(t, 2, n)
			return nil
		})

		err := s.RunInTx(ctx, func(tx Tx) error {
			return tx.UpdateMatchAttemptStatus(ctx, "a1", domain.AttemptPending, domain.AttemptAccepted, t0)
		})
		assert.ErrorIs(t, err, domain.ErrConflict)

		mustTx(t, s, func(tx Tx) error {
			all, err := tx.ListMatchAttempts(ctx, "j1")
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, []domain.MatchAttemptStatus{domain.AttemptExpired, domain.AttemptAccepted, domain.AttemptExpired},
				[]domain.MatchAttemptStatus{all[0].Status, all[1].Status, all[2].Status})
			assert.NotNil(t, all[1].RespondedAt)
			return nil
		})
	})

	t.Run("adjustments decide once", func(t *testing.T) {
		s := newStore(t)
		mustTx(t, s, func(tx Tx) error {
			if err := tx.CreateProvider(ctx, testProvider("p1")); err != nil {
				return err
			}
			if err := tx.CreateJob(ctx, testJob("j1", "c1", t0)); err != nil {
				return err
			}
			return tx.CreateAdjustment(ctx, &domain.Adjustment{
				ID: "adj1", JobID: "j1", ProviderID: "p1", Type: domain.AdjustmentAddItem,
				ItemName: "couch", Quantity: 1, PriceChange: domain.Dollars(30),
				PhotoURLs: []string{"https://img/1.jpg"}, Status: domain.AdjustmentPending, CreatedAt: t0,
			})
		})

		decide := func(status domain.AdjustmentStatus) error {
			return s.RunInTx(ctx, func(tx Tx) error {
				a, err := tx.GetAdjustment(ctx, "adj1")
				require.NoError(t, err)
				a.Status = status
				a.DecidedBy = domain.Ptr("c1")
				a.DecidedAt = domain.Ptr(t0)
				return tx.DecideAdjustment(ctx, a)
			})
		}
		require.NoError(t, decide(domain.AdjustmentApproved))
		assert.ErrorIs(t, decide(domain.AdjustmentDeclined), domain.ErrConflict)

		mustTx(t, s, func(tx Tx) error {
			all, err := tx.ListAdjustments(ctx, "j1")
			require.NoError(t, err)
			require.Len(t, all, 1)
			assert.Equal(t, domain.AdjustmentApproved, all[0].Status)
			assert.Equal(t, []string{"https://img/1.jpg"}, all[0].PhotoURLs)
			assert.Equal(t, domain.Dollars(30), domain.ApprovedTotal(all))
			return nil
		})
	})

	t.Run("completion and penalties", func(t *testing.T) {
		s := newStore(t)
		mustTx(t, s, func(tx Tx) error {
			if err := tx.CreateProvider(ctx, testProvider("p1")); err != nil {
				return err
			}
			if err := tx.CreateJob(ctx, testJob("j1", "c1", t0)); err != nil {
				return err
			}
			if err := tx.CreateCompletion(ctx, &domain.Completion{JobID: "j1", OriginalQuote: domain.Dollars(200), CreatedAt: t0, UpdatedAt: t0}); err != nil {
				return err
			}
			for i, status := range []domain.PenaltyStatus{domain.PenaltyStatusAssessed, domain.PenaltyStatusCharged} {
				if err := tx.CreatePenalty(ctx, &domain.Penalty{
					ID: fmt.Sprintf("pen%d", i+1), ProviderID: "p1", JobID: "j1", Reason: "cancellation",
					Amount: domain.Dollars(25), Status: status, CreatedAt: t0.Add(time.Duration(i) * time.Minute),
				}); err != nil {
					return err
				}
			}
			return nil
		})

		mustTx(t, s, func(tx Tx) error {
			c, err := tx.GetCompletion(ctx, "j1")
			require.NoError(t, err)
			c.Apply(domain.ChecklistUpdate{WorkCompleted: domain.Ptr(true)}, t0)
			require.NoError(t, tx.UpdateCompletion(ctx, c))

			got, err := tx.GetCompletion(ctx, "j1")
			require.NoError(t, err)
			assert.True(t, got.WorkCompleted)
			assert.NotNil(t, got.WorkCompletedAt)

			outstanding, err := tx.ListPenalties(ctx, PenaltyFilter{ProviderID: "p1", Status: domain.PenaltyStatusAssessed})
			require.NoError(t, err)
			require.Len(t, outstanding, 1)

			all, err := tx.ListPenalties(ctx, PenaltyFilter{ProviderID: "p1"})
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, "pen2", all[0].ID, "newest first")

			p := outstanding[0]
			p.MarkCharged("ch_1", t0)
			require.NoError(t, tx.UpdatePenalty(ctx, &p, domain.PenaltyStatusAssessed))
			assert.ErrorIs(t, tx.UpdatePenalty(ctx, &p, domain.PenaltyStatusAssessed), domain.ErrConflict)
			return nil
		})
	})

	t.Run("list jobs pages newest first", func(t *testing.T) {
		s := newStore(t)
		mustTx(t, s, func(tx Tx) error {
			for i := range 5 {
				if err := tx.CreateJob(ctx, testJob(fmt.Sprintf("j%d", i), "c1", t0.Add(time.Duration(i)*time.Minute))); err != nil {
					return err
				}
			}
			return tx.CreateJob(ctx, testJob("other", "c2", t0))
		})

		var seen []string
		var cursor *JobCursor
		for range 3 {
			mustTx(t, s, func(tx Tx) error {
				page, err := tx.ListJobs(ctx, JobFilter{CustomerID: "c1", PageSize: 2, Cursor: cursor})
				require.NoError(t, err)
				if len(page) > 2 {
					page = page[:2]
				}
				for _, j := range page {
					seen = append(seen, j.ID)
				}
				if len(page) > 0 {
					last := page[len(page)-1]
					cursor = &JobCursor{CreatedAt: last.CreatedAt, JobID: last.ID}
				}
				return nil
			})
		}
		assert.Equal(t, []string{"j4", "j3", "j2", "j1", "j0"}, seen)
	})

	t.Run("manual match queue", func(t *testing.T) {
		s := newStore(t)
		flagged := testJob("flagged", "c1", t0.Add(time.Hour))
		flagged.NeedsManualMatch = true
		mustTx(t, s, func(tx Tx) error {
			if err := tx.CreateJob(ctx, testJob("lapsed", "c1", t0)); err != nil {
				return err
			}
			if err := tx.CreateJob(ctx, testJob("fresh", "c1", t0.Add(time.Hour))); err != nil {
				return err
			}
			return tx.CreateJob(ctx, flagged)
		})

		mustTx(t, s, func(tx Tx) error {
			at := t0.Add(time.Hour + 30*time.Second)
			got, err := tx.ListJobs(ctx, JobFilter{ManualMatchAt: &at})
			require.NoError(t, err)
			var ids []string
			for _, j := range got {
				ids = append(ids, j.ID)
			}
			assert.ElementsMatch(t, []string{"lapsed", "flagged"}, ids)
			return nil
		})
	})
}
