package http

// Config holds configuration for the status API.
type Config struct {
	Enabled  bool   `json:"enabled"`
	Listen   string `json:"listen" validate:"required_if=Enabled true"` // e.g. "127.0.0.1:1337"
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty" validate:"required_if=Enabled true"` // plain or bcrypt hash
}

// DefaultConfig keeps the API off and bound to loopback when enabled.
func DefaultConfig() Config {
	return Config{
		Listen:   "127.0.0.1:1337",
		Username: "voxledger",
	}
}
