package enums

// PaymentStatus is the gateway side of an order.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

var paymentStatuses = []PaymentStatus{
	PaymentStatusPending,
	PaymentStatusPaid,
	PaymentStatusFailed,
	PaymentStatusRefunded,
}

// paid never goes back; the only way out is a refund
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending: {PaymentStatusPaid, PaymentStatusFailed},
	PaymentStatusPaid:    {PaymentStatusRefunded},
}

func (p PaymentStatus) String() string { return string(p) }

func (p PaymentStatus) IsValid() bool { return member(paymentStatuses, p) }

func (p PaymentStatus) CanTransition(next PaymentStatus) bool {
	return member(paymentTransitions[p], next)
}

func ParsePaymentStatus(value string) (PaymentStatus, error) {
	return parseMember("payment status", paymentStatuses, value)
}
