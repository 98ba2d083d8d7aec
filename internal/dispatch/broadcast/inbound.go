package broadcast

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/dispatch-be/internal/dispatch/domain"
	"github.com/cuongbtq/dispatch-be/internal/dispatch/service"
)

// Inbound frame types.
const (
	FrameLocationUpdate         = "location_update"
	FrameCustomerLocationUpdate = "customer_location_update"
	FrameConnected              = "connected"
)

// InboundFrame is a message a subscriber sends up the stream.
type InboundFrame struct {
	Type     string   `json:"type"`
	UserID   string   `json:"userId,omitempty"`
	Role     string   `json:"role,omitempty"`
	Lat      float64  `json:"lat"`
	Lng      float64  `json:"lng"`
	Accuracy *float64 `json:"accuracy,omitempty"`
	Heading  *float64 `json:"heading,omitempty"`
	Speed    *float64 `json:"speed,omitempty"`
}

// LocationRecorder is the part of the service inbound frames drive.
type LocationRecorder interface {
	RecordProviderLocation(ctx context.Context, actor domain.Actor, jobID string, u service.LocationUpdate) (bool, error)
	RecordCustomerLocation(ctx context.Context, actor domain.Actor, jobID string, u service.LocationUpdate) error
}

// HandleInbound applies frame on behalf of sub's registered identity. A
// frame claiming another identity, or a role that may not send it, is
// dropped without a reply. It reports whether the frame was applied.
func HandleInbound(ctx context.Context, rec LocationRecorder, sub *Subscription, frame InboundFrame, logger *slog.Logger) bool {
	if frame.UserID != "" && frame.UserID != sub.Actor.ID {
		return false
	}
	if frame.Role != "" && domain.Role(frame.Role) != sub.Actor.Role {
		return false
	}

	u := service.LocationUpdate{
		Lat:      frame.Lat,
		Lng:      frame.Lng,
		Accuracy: frame.Accuracy,
		Heading:  frame.Heading,
		Speed:    frame.Speed,
	}

	var err error
	switch frame.Type {
	case FrameLocationUpdate:
		if sub.Actor.Role != domain.RoleProvider {
			return false
		}
		_, err = rec.RecordProviderLocation(ctx, sub.Actor, sub.JobID, u)
	case FrameCustomerLocationUpdate:
		if sub.Actor.Role != domain.RoleCustomer {
			return false
		}
		err = rec.RecordCustomerLocation(ctx, sub.Actor, sub.JobID, u)
	default:
		return false
	}

	if err != nil {
		logger.Debug("Inbound frame rejected",
			slog.String("job_id", sub.JobID),
			slog.String("frame_type", frame.Type),
			slog.Any("error", err),
		)
		return false
	}
	return true
}
