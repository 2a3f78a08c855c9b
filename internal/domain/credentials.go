package domain

// Credentials is the authentication material of one session. Material is
// opaque to everything but the engine that produced it.
type Credentials struct {
	SessionID  SessionID
	Registered bool
	// Account is the engine-assigned address of the session once paired.
	Account  string
	Material []byte
}

func NewCredentials(id SessionID) Credentials {
	return Credentials{SessionID: id}
}

func (c Credentials) Clone() Credentials {
	clone := c
	if c.Material != nil {
		clone.Material = append([]byte(nil), c.Material...)
	}

	return clone
}
