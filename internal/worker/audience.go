package worker

import (
	dispatch "github.com/cuongbtq/dispatch-be/internal/dispatch/domain"
	"github.com/cuongbtq/dispatch-be/internal/worker/domain"
)

var audiences = map[dispatch.EventType][]string{
	dispatch.EventJobCreated:        {domain.AudienceProvider},
	dispatch.EventJobAccepted:       {domain.AudienceCustomer},
	dispatch.EventCallConfirmed:     {domain.AudienceCustomer},
	dispatch.EventJobStarted:        {domain.AudienceCustomer},
	dispatch.EventChecklistUpdated:  {domain.AudienceCustomer},
	dispatch.EventAdjustmentAdded:   {domain.AudienceCustomer},
	dispatch.EventAdjustmentUpdated: {domain.AudienceProvider},
	dispatch.EventJobCompleted:      {domain.AudienceCustomer, domain.AudienceProvider},
	dispatch.EventJobCancelled:      {domain.AudienceCustomer, domain.AudienceProvider},
	dispatch.EventJobWithdrawn:      {domain.AudienceCustomer, domain.AudienceAdmin},
	dispatch.EventJobRematched:      {domain.AudienceProvider},
	dispatch.EventPaymentAuthorized: {domain.AudienceProvider},
	dispatch.EventJobRated:          {domain.AudienceProvider},
	dispatch.EventWorkerArrived:     {domain.AudienceCustomer},
	dispatch.EventMatchDeclined:     {domain.AudienceAdmin},
}

// resolveAudience returns who should be told about evt. Location pings only
// travel over the live stream, so they resolve to nobody.
func resolveAudience(evt dispatch.Event) []string {
	if evt.Type == dispatch.EventJobCreated {
		if manual, _ := evt.Payload["needsManualMatch"].(bool); manual {
			return []string{domain.AudienceAdmin}
		}
	}
	return audiences[evt.Type]
}
