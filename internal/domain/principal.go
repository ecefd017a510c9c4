package domain

// Principal is the signed-in user acting on the roster.
type Principal struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	ID    string `json:"id"`
}

// DisplayName falls back to the email when no name is known.
func (p Principal) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Email
}
