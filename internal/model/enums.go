package model

// SessionRole tracks where a connection sits in the pairing state machine.
// Roles are assigned by explicit transitions, never inferred from payload
// shape.
type SessionRole string

const (
	// RoleUnidentified is the state of a fresh connection that has not yet
	// declared itself by generating or redeeming a code.
	RoleUnidentified SessionRole = "unidentified"

	// RoleUnpairedMobile is a mobile session holding (or eligible to hold)
	// an unredeemed pairing code.
	RoleUnpairedMobile SessionRole = "unpaired_mobile"

	// RoleUnpairedDesktop is a desktop session that was unpaired after a
	// forced disconnect and has not redeemed a new code yet.
	RoleUnpairedDesktop SessionRole = "unpaired_desktop"

	RolePairedMobile  SessionRole = "paired_mobile"
	RolePairedDesktop SessionRole = "paired_desktop"
)

// Paired reports whether the role has a live counterpart.
func (r SessionRole) Paired() bool {
	return r == RolePairedMobile || r == RolePairedDesktop
}

type PairingEventType string

const (
	PairingEventCodeIssued   PairingEventType = "code_issued"
	PairingEventCodeRedeemed PairingEventType = "code_redeemed"
	PairingEventCodeExpired  PairingEventType = "code_expired"
	PairingEventUnpaired     PairingEventType = "unpaired"
	PairingEventDisconnected PairingEventType = "disconnected"
)
