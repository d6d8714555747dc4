package domain

// Identity is the external principal established by the identity provider.
// The funnel only borrows it; token issuance and refresh live outside.
type Identity struct {
	Email         string `json:"email"`
	Name          string `json:"name,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
}

// ID returns the stable identifier used to scope admission state.
func (i Identity) ID() string {
	return i.Email
}
