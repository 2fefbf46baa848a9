package dto

type AuthResponse struct {
	Token string `json:"token"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

// BookingWithEscrow is returned by the booking operation so the caller
// sees both records the workflow produced.
type BookingWithEscrow struct {
	Booking any `json:"booking"`
	Escrow  any `json:"escrow,omitempty"`
}
