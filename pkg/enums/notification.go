package enums

// NotificationType is the kind of merchant alert. It drives the icon and copy
// on the dashboard.
type NotificationType string

const (
	NotificationTypeOrderConfirmed     NotificationType = "order_confirmed"
	NotificationTypeShipmentFailed     NotificationType = "shipment_failed"
	NotificationTypeRefundProcessed    NotificationType = "refund_processed"
	NotificationTypeSystemAnnouncement NotificationType = "system_announcement"
)

var notificationTypes = []NotificationType{
	NotificationTypeOrderConfirmed,
	NotificationTypeShipmentFailed,
	NotificationTypeRefundProcessed,
	NotificationTypeSystemAnnouncement,
}

func (n NotificationType) IsValid() bool { return member(notificationTypes, n) }

func ParseNotificationType(value string) (NotificationType, error) {
	return parseMember("notification type", notificationTypes, value)
}
