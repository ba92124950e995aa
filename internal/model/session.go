package model

// SessionRecord is the value stored in the session cache under a session handle.
type SessionRecord struct {
	AccessToken string `json:"access_token"`
}
