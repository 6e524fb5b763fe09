package entity

// RefundBookingPayment_v1 asks the payment provider to refund a captured
// booking payment. It is sent through the outbox in the same transaction
// that cancels the booking.
type RefundBookingPayment_v1 struct {
	Header EventHeader `json:"header"`

	BookingReference string `json:"booking_reference"`
	PaymentIntentID  string `json:"payment_intent_id"`
	Amount           Money  `json:"amount"`
	Reason           string `json:"reason"`
}

type EmailMessage struct {
	To       string            `json:"to"`
	Template string            `json:"template"`
	Data     map[string]string `json:"data"`
}
