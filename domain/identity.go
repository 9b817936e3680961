package domain

// Identity is the authenticated user behind a request or connection.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DisplayName returns the name used in denormalized records.
func (i Identity) DisplayName() string {
	if i.Name != "" {
		return i.Name
	}
	return i.ID
}
