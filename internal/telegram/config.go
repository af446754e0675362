package telegram

// Config configures the Telegram transport.
type Config struct {
	Enabled                bool    `json:"enabled"`
	BotToken               string  `json:"botToken" validate:"required_if=Enabled true"`
	AllowedUsers           []int64 `json:"allowedUsers,omitempty"` // empty allows everyone
	PollTimeoutSeconds     int     `json:"pollTimeoutSeconds" validate:"gte=0"`
	DownloadTimeoutSeconds int     `json:"downloadTimeoutSeconds" validate:"gte=0"`
	APIURL                 string  `json:"apiUrl,omitempty"`
}

// DefaultConfig returns a disabled bot polling every 10 seconds.
func DefaultConfig() Config {
	return Config{
		PollTimeoutSeconds:     10,
		DownloadTimeoutSeconds: 30,
	}
}

const defaultAPIURL = "https://api.telegram.org"

func (c Config) apiURL() string {
	if c.APIURL == "" {
		return defaultAPIURL
	}
	return c.APIURL
}
