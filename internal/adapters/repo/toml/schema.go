package toml

import "fmt"

const currentSchemaVersion = 1

type fileSchema struct {
	Version  int             `toml:"version"`
	Sessions []sessionSchema `toml:"sessions"`
}

func (s *fileSchema) applyDefaults() {
	if s.Version == 0 {
		s.Version = currentSchemaVersion
	}
}

func (s fileSchema) validateVersion() error {
	if s.Version > currentSchemaVersion {
		return fmt.Errorf("unsupported status schema version %d (current %d)", s.Version, currentSchemaVersion)
	}

	return nil
}

type sessionSchema struct {
	ID                   string `toml:"id"`
	State                string `toml:"state"`
	Registered           bool   `toml:"registered"`
	Account              string `toml:"account,omitempty"`
	RetryCount           int    `toml:"retry_count"`
	LastDisconnectReason string `toml:"last_disconnect_reason,omitempty"`
	ConnectedAt          string `toml:"connected_at,omitempty"`
	UpdatedAt            string `toml:"updated_at"`
}
