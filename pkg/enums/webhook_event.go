package enums

// PaymentEventKind is the normalized kind of a verified payment webhook.
type PaymentEventKind string

const (
	PaymentEventConfirmed PaymentEventKind = "payment_confirmed"
	PaymentEventExpired   PaymentEventKind = "payment_expired"
	PaymentEventRefunded  PaymentEventKind = "charge_refunded"
	PaymentEventIgnored   PaymentEventKind = "ignored"
)

// payment_intent.payment_failed is not mapped: a declined intent can still
// succeed on a later attempt.
var gatewayEventKinds = map[string]PaymentEventKind{
	"checkout.session.completed":               PaymentEventConfirmed,
	"checkout.session.async_payment_succeeded": PaymentEventConfirmed,
	"payment_intent.succeeded":                 PaymentEventConfirmed,
	"checkout.session.expired":                 PaymentEventExpired,
	"checkout.session.async_payment_failed":    PaymentEventExpired,
	"payment_intent.canceled":                  PaymentEventExpired,
	"charge.refunded":                          PaymentEventRefunded,
}

// PaymentEventKindFor maps a gateway event type onto the kinds the
// fulfillment pipeline routes on.
func PaymentEventKindFor(gatewayType string) PaymentEventKind {
	if kind, ok := gatewayEventKinds[gatewayType]; ok {
		return kind
	}
	return PaymentEventIgnored
}

// VerifiedWith records which secret authenticated a webhook.
type VerifiedWith string

const (
	VerifiedWithPlatform VerifiedWith = "platform"
	VerifiedWithMerchant VerifiedWith = "merchant"
)
