package transit

// Location is one entry of the array returned by /locations
type Location struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Stop is the object returned by /stops/{id}
type Stop struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name"`
}
