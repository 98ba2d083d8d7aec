package domain

// Delivery status constants, matching notification_deliveries.status
const (
	DeliveryStatusDelivering = "delivering"
	DeliveryStatusDelivered  = "delivered"
	DeliveryStatusFailed     = "failed"
)

// Audience roles a notification can be addressed to
const (
	AudienceCustomer = "customer"
	AudienceProvider = "provider"
	AudienceAdmin    = "admin"
)
