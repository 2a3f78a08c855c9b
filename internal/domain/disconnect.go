package domain

type DisconnectReason string

const (
	DisconnectLoggedOut       DisconnectReason = "logged_out"
	DisconnectConnectionLost  DisconnectReason = "connection_lost"
	DisconnectConnectionClose DisconnectReason = "connection_closed"
	DisconnectTimedOut        DisconnectReason = "timed_out"
	DisconnectRestartRequired DisconnectReason = "restart_required"
	DisconnectReplaced        DisconnectReason = "connection_replaced"
)

// Terminal reports whether the session must not reconnect after a close with
// this reason.
func (r DisconnectReason) Terminal() bool {
	return r == DisconnectLoggedOut
}

func (r DisconnectReason) String() string {
	if r == "" {
		return "unknown"
	}

	return string(r)
}
