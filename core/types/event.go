package types

// Event is the structured payload recorded for every externally observable
// state change. Attributes are flat string pairs so downstream indexers can
// reconstruct the epoch store without decoding module internals.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Attribute returns the named attribute or an empty string when absent.
func (e *Event) Attribute(key string) string {
	if e == nil || e.Attributes == nil {
		return ""
	}
	return e.Attributes[key]
}
