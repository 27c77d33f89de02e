package enums

// OutboxAggregateType names the entity an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregateOrder        OutboxAggregateType = "order"
	AggregateStore        OutboxAggregateType = "store"
	AggregateNotification OutboxAggregateType = "notification"
)

var aggregateTypes = []OutboxAggregateType{AggregateOrder, AggregateStore, AggregateNotification}

func (a OutboxAggregateType) IsValid() bool { return member(aggregateTypes, a) }

func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	return parseMember("aggregate type", aggregateTypes, value)
}

// OutboxEventType is the event_type column and the event_type message attribute.
type OutboxEventType string

const (
	EventOrderConfirmed    OutboxEventType = "order_confirmed"
	EventShipmentFailed    OutboxEventType = "shipment_failed"
	EventRefundProcessed   OutboxEventType = "refund_processed"
	EventShipmentCreated   OutboxEventType = "shipment_created"
	EventShipmentCancelled OutboxEventType = "shipment_cancelled"
	EventOrderCancelled    OutboxEventType = "order_cancelled"
)

var outboxEventTypes = []OutboxEventType{
	EventOrderConfirmed,
	EventShipmentFailed,
	EventRefundProcessed,
	EventShipmentCreated,
	EventShipmentCancelled,
	EventOrderCancelled,
}

func (e OutboxEventType) IsValid() bool { return member(outboxEventTypes, e) }

func ParseOutboxEventType(value string) (OutboxEventType, error) {
	return parseMember("event type", outboxEventTypes, value)
}

// OutboxDLQErrorReason explains why an outbox row stopped retrying.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

func (r OutboxDLQErrorReason) IsValid() bool {
	return r == OutboxDLQReasonMaxAttempts || r == OutboxDLQReasonNonRetryable
}
