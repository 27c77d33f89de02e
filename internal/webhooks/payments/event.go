package payments

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
)

const (
	metadataOrderID = "order_id"
	metadataStoreID = "store_id"
)

// Event is a verified gateway delivery reduced to what fulfillment routes on.
type Event struct {
	ID                  string
	Type                enums.PaymentEventKind
	GatewayType         string
	OrderID             uuid.UUID
	StoreID             uuid.UUID
	PaymentIntentID     string
	ChargeID            string
	AmountCents         int64
	AmountRefundedCents int64
	FullyRefunded       bool
	VerifiedWith        enums.VerifiedWith
	Created             time.Time
	Raw                 []byte
}

// HasOrder reports whether the event names an order directly.
func (e *Event) HasOrder() bool {
	return e != nil && e.OrderID != uuid.Nil
}

func normalize(payload []byte, verified enums.VerifiedWith) (*Event, error) {
	var gw stripe.Event
	if err := json.Unmarshal(payload, &gw); err != nil {
		return nil, invalidPayload("webhook body is not a gateway event")
	}
	if gw.ID == "" || gw.Data == nil {
		return nil, invalidPayload("webhook event missing id or data")
	}

	event := &Event{
		ID:           gw.ID,
		GatewayType:  string(gw.Type),
		Type:         enums.PaymentEventKindFor(string(gw.Type)),
		VerifiedWith: verified,
		Raw:          payload,
	}
	if gw.Created > 0 {
		event.Created = time.Unix(gw.Created, 0).UTC()
	}
	if event.Type == enums.PaymentEventIgnored {
		return event, nil
	}

	var metadata map[string]string
	switch {
	case strings.HasPrefix(event.GatewayType, "checkout.session."):
		var session stripe.CheckoutSession
		if err := json.Unmarshal(gw.Data.Raw, &session); err != nil {
			return nil, invalidPayload("decode checkout session")
		}
		metadata = session.Metadata
		event.AmountCents = session.AmountTotal
		// Delayed payment methods complete the session unpaid; the
		// async_payment_succeeded delivery confirms them later.
		if event.GatewayType == "checkout.session.completed" && !sessionSettled(session.PaymentStatus) {
			event.Type = enums.PaymentEventIgnored
		}
		if session.PaymentIntent != nil {
			event.PaymentIntentID = session.PaymentIntent.ID
		}
		if metadata[metadataOrderID] == "" && session.ClientReferenceID != "" {
			if metadata == nil {
				metadata = map[string]string{}
			}
			metadata[metadataOrderID] = session.ClientReferenceID
		}
	case strings.HasPrefix(event.GatewayType, "payment_intent."):
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(gw.Data.Raw, &intent); err != nil {
			return nil, invalidPayload("decode payment intent")
		}
		metadata = intent.Metadata
		event.PaymentIntentID = intent.ID
		event.AmountCents = intent.Amount
	case strings.HasPrefix(event.GatewayType, "charge."):
		var charge stripe.Charge
		if err := json.Unmarshal(gw.Data.Raw, &charge); err != nil {
			return nil, invalidPayload("decode charge")
		}
		metadata = charge.Metadata
		event.ChargeID = charge.ID
		event.AmountCents = charge.Amount
		event.AmountRefundedCents = charge.AmountRefunded
		event.FullyRefunded = charge.Refunded || (charge.Amount > 0 && charge.AmountRefunded >= charge.Amount)
		if charge.PaymentIntent != nil {
			event.PaymentIntentID = charge.PaymentIntent.ID
		}
	}

	// Unparseable ids are treated as absent; the orchestrator decides what
	// an event without an order means.
	event.OrderID = parseUUID(metadata[metadataOrderID])
	event.StoreID = parseUUID(metadata[metadataStoreID])
	return event, nil
}

func sessionSettled(status stripe.CheckoutSessionPaymentStatus) bool {
	return status == stripe.CheckoutSessionPaymentStatusPaid ||
		status == stripe.CheckoutSessionPaymentStatusNoPaymentRequired
}

// storeIDFromPayload reads data.object.metadata.store_id without trusting
// anything else in the unverified body.
func storeIDFromPayload(payload []byte) (string, error) {
	var envelope struct {
		Data struct {
			Object struct {
				Metadata map[string]string `json:"metadata"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return "", invalidPayload("webhook body is not valid JSON")
	}
	return strings.TrimSpace(envelope.Data.Object.Metadata[metadataStoreID]), nil
}

func parseUUID(raw string) uuid.UUID {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil
	}
	return id
}
