package enums

import "strings"

// TrackingStatus is the normalized carrier scan status.
type TrackingStatus string

const (
	TrackingStatusPending        TrackingStatus = "pending"
	TrackingStatusPickedUp       TrackingStatus = "picked_up"
	TrackingStatusInTransit      TrackingStatus = "in_transit"
	TrackingStatusOutForDelivery TrackingStatus = "out_for_delivery"
	TrackingStatusDelivered      TrackingStatus = "delivered"
	TrackingStatusException      TrackingStatus = "exception"
	TrackingStatusReturned       TrackingStatus = "returned"
	TrackingStatusCancelled      TrackingStatus = "cancelled"
)

func (t TrackingStatus) String() string {
	return string(t)
}

// NormalizeTrackingStatus maps free-form carrier status text onto
// TrackingStatus. Unknown text is treated as in transit.
func NormalizeTrackingStatus(raw string) TrackingStatus {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case s == "":
		return TrackingStatusPending
	case strings.Contains(s, "out for delivery"), strings.Contains(s, "out_for_delivery"):
		return TrackingStatusOutForDelivery
	case strings.Contains(s, "rto"), strings.Contains(s, "return"):
		return TrackingStatusReturned
	case strings.Contains(s, "undeliver"), strings.Contains(s, "fail"), strings.Contains(s, "exception"):
		return TrackingStatusException
	case strings.Contains(s, "cancel"):
		return TrackingStatusCancelled
	case strings.Contains(s, "deliver"):
		return TrackingStatusDelivered
	case strings.Contains(s, "picked"), strings.Contains(s, "pickup"):
		return TrackingStatusPickedUp
	case strings.Contains(s, "pending"), strings.Contains(s, "manifest"), strings.Contains(s, "pre_transit"), strings.Contains(s, "unknown"):
		return TrackingStatusPending
	default:
		return TrackingStatusInTransit
	}
}

// OrderStatus returns the order status implied by the scan, if any.
func (t TrackingStatus) OrderStatus() (OrderStatus, bool) {
	switch t {
	case TrackingStatusPickedUp, TrackingStatusInTransit, TrackingStatusOutForDelivery:
		return OrderStatusShipped, true
	case TrackingStatusDelivered:
		return OrderStatusDelivered, true
	default:
		return "", false
	}
}
