package file

import (
	"encoding/base64"
	"fmt"

	"github.com/bnema/multisession/internal/domain"
)

const currentSchemaVersion = 1

type credentialsSchema struct {
	Version    int    `toml:"version"`
	Session    string `toml:"session"`
	Registered bool   `toml:"registered"`
	Account    string `toml:"account,omitempty"`
	Material   string `toml:"material"`
}

func (s credentialsSchema) validate(id domain.SessionID) error {
	if s.Version > currentSchemaVersion {
		return fmt.Errorf("unsupported credentials schema version %d (current %d)", s.Version, currentSchemaVersion)
	}
	if s.Session != "" && s.Session != string(id) {
		return fmt.Errorf("credentials for %q found in directory of %q", s.Session, id)
	}

	return nil
}

func (s credentialsSchema) toDomain(id domain.SessionID) (domain.Credentials, error) {
	material, err := base64.StdEncoding.DecodeString(s.Material)
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("%w: decode credential material %q: %w", domain.ErrStorage, id, err)
	}
	if len(material) == 0 {
		material = nil
	}

	return domain.Credentials{
		SessionID:  id,
		Registered: s.Registered,
		Account:    s.Account,
		Material:   material,
	}, nil
}
