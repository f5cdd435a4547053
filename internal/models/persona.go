package models

// Credential is one upstream API token with its own concurrency budget.
type Credential struct {
	Key     string `json:"key"`
	BaseURL string `json:"base_url,omitempty"`
	APIKey  string `json:"api_key,omitempty"` // Omit from responses for security
}

// Persona is a selectable upstream bot configuration. The display fields
// (icon/color/gradient) are passed through verbatim so the client can
// restyle itself on switch.
type Persona struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Credential  string `json:"token_key"`
	Icon        string `json:"icon,omitempty"`
	Color       string `json:"color,omitempty"`
	Gradient    string `json:"gradient,omitempty"`
}

// BotsConfig is the on-disk personas + credentials file (bots.json).
// The first persona in the list is the default for new sessions.
type BotsConfig struct {
	Credentials []Credential `json:"credentials"`
	Bots        []Persona    `json:"bots"`
}

// Message is one conversation turn sent to the upstream API.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
