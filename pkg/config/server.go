package config

// ServerConfig holds External Interface Layer (C11) listener settings.
type ServerConfig struct {
	Addr             string   `yaml:"addr" validate:"required"`
	BodyLimit        string   `yaml:"body_limit,omitempty"` // echo middleware.BodyLimit format, e.g. "2M"
	AllowedWSOrigins []string `yaml:"allowed_ws_origins,omitempty"`
}

// DefaultServerConfig returns the built-in server defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Addr:      ":8080",
		BodyLimit: "2M",
	}
}
