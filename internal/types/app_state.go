package types

// AppState is the small durable slice written to local storage for restart
// continuity. Message content is never persisted here.
type AppState struct {
	LastSessionID  string                   `json:"last_session_id,omitempty"`
	LastProviderID string                   `json:"last_provider_id,omitempty"`
	LastModelID    string                   `json:"last_model_id,omitempty"`
	SessionMemory  map[string]SessionMemory `json:"session_memory,omitempty"`
}
