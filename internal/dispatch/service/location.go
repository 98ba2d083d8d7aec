package service

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/dispatch-be/internal/dispatch/domain"
	"github.com/cuongbtq/dispatch-be/internal/dispatch/matching"
	"github.com/cuongbtq/dispatch-be/internal/dispatch/store"
)

// LocationUpdate is a GPS fix from a party's device.
type LocationUpdate struct {
	Lat      float64
	Lng      float64
	Accuracy *float64
	Heading  *float64
	Speed    *float64
}

func (u LocationUpdate) validate() error {
	if u.Lat < -90 || u.Lat > 90 || u.Lng < -180 || u.Lng > 180 {
		return domain.Validationf("coordinates out of range")
	}
	return nil
}

func (u LocationUpdate) payload(actorID string) map[string]any {
	p := map[string]any{"lat": u.Lat, "lng": u.Lng, "actorId": actorID}
	if u.Accuracy != nil {
		p["accuracy"] = *u.Accuracy
	}
	if u.Heading != nil {
		p["heading"] = *u.Heading
	}
	if u.Speed != nil {
		p["speed"] = *u.Speed
	}
	return p
}

// RecordProviderLocation stores the assigned provider's position and
// broadcasts it. The first fix inside the pickup geofence also announces
// arrival. It reports whether this fix triggered arrival.
func (s *Service) RecordProviderLocation(ctx context.Context, actor domain.Actor, jobID string, u LocationUpdate) (bool, error) {
	if err := u.validate(); err != nil {
		return false, err
	}

	var (
		arrived  bool
		distance float64
	)
	err := s.withJob(jobID, func() error {
		err := s.store.RunInTx(ctx, func(tx store.Tx) error {
			job, err := loadJob(ctx, tx, jobID)
			if err != nil {
				return err
			}
			if err := requireAssignedProvider(actor, job); err != nil {
				return err
			}
			if job.Status != domain.JobStatusAssigned && job.Status != domain.JobStatusInProgress {
				return wrongStatus(job, domain.JobStatusAssigned, domain.JobStatusInProgress)
			}

			now := s.clock()
			provider, err := loadProvider(ctx, tx, actor.ID)
			if err != nil {
				return err
			}
			loc := domain.Location{Lat: u.Lat, Lng: u.Lng}
			provider.LastKnown = &loc
			provider.UpdatedAt = now
			if err := tx.UpdateProvider(ctx, provider); err != nil {
				return err
			}

			distance = matching.DistanceMiles(loc, job.Pickup)
			if job.ArrivalNotifiedAt != nil || distance > s.policy.GeofenceMiles {
				return nil
			}
			job.ArrivalNotifiedAt = &now
			job.UpdatedAt = now
			if err := tx.UpdateJob(ctx, job, job.Status); err != nil {
				return err
			}
			arrived = true
			return nil
		})
		if err != nil {
			return err
		}

		payload := u.payload(actor.ID)
		payload["role"] = domain.RoleProvider
		payload["distanceMiles"] = distance
		s.emit(jobID, domain.EventLocationUpdated, payload)
		if arrived {
			s.logger.Info("Provider arrived at pickup", slog.String("job_id", jobID), slog.String("provider_id", actor.ID))
			s.emit(jobID, domain.EventWorkerArrived, map[string]any{
				"providerId": actor.ID,
				"lat":        u.Lat,
				"lng":        u.Lng,
			})
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return arrived, nil
}

// RecordCustomerLocation relays the customer's position to the job's
// subscribers. It is not persisted.
func (s *Service) RecordCustomerLocation(ctx context.Context, actor domain.Actor, jobID string, u LocationUpdate) error {
	if err := u.validate(); err != nil {
		return err
	}
	return s.withJob(jobID, func() error {
		err := s.store.RunInTx(ctx, func(tx store.Tx) error {
			job, err := tx.GetJob(ctx, jobID)
			if err != nil {
				return err
			}
			if actor.Role != domain.RoleCustomer || job.CustomerID != actor.ID {
				return domain.Unauthorizedf("only the customer shares their location on job %s", jobID)
			}
			if job.Status.Terminal() {
				return wrongStatus(job, domain.JobStatusMatching, domain.JobStatusAssigned, domain.JobStatusInProgress)
			}
			return nil
		})
		if err != nil {
			return err
		}

		s.emit(jobID, domain.EventCustomerLocationUpdated, u.payload(actor.ID))
		return nil
	})
}

// AuthorizeSubscription checks that actor may watch jobID's event stream.
func (s *Service) AuthorizeSubscription(ctx context.Context, actor domain.Actor, jobID string) error {
	return s.store.RunInTx(ctx, func(tx store.Tx) error {
		job, err := tx.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		return authorizeParty(ctx, tx, actor, job)
	})
}
