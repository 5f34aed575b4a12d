package domain

// PaymentSource identifies which of the uncoordinated completion channels
// delivered a payment signal.
type PaymentSource string

const (
	PaymentSourceStripe PaymentSource = "stripe"
	PaymentSourcePayPal PaymentSource = "paypal"
	PaymentSourceManual PaymentSource = "manual"
)

// PaymentEvent is the tagged union of completion signals the reconciler
// accepts. All three entry points funnel through a single reconcile function
// so the state transition lives in exactly one place.
type PaymentEvent interface {
	Source() PaymentSource
}

// StripeWebhookEvent is a signature-verified checkout.session.completed
// delivery. The order id travels in the session metadata set at intake time.
type StripeWebhookEvent struct {
	EventID         string
	SessionID       string
	PaymentIntentID string
	OrderID         string
}

func (StripeWebhookEvent) Source() PaymentSource { return PaymentSourceStripe }

// PayPalCapture is a customer redirect carrying the PayPal order token. The
// capture call itself, and the resolution of the order id from the capture's
// custom_id, happen inside the reconciler.
type PayPalCapture struct {
	Token string
}

func (PayPalCapture) Source() PaymentSource { return PaymentSourcePayPal }

// ManualConfirm is an administrative completion for gateways without webhook
// support, or for support-desk recovery.
type ManualConfirm struct {
	OrderID       string
	TransactionID string
	Method        string
	Amount        int64
	Currency      Currency
	ActorID       string
}

func (ManualConfirm) Source() PaymentSource { return PaymentSourceManual }
