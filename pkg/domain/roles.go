package domain

import dErrors "clinicore/pkg/domain-errors"

// PerformerRole identifies the clinical capacity in which an actor produced
// an event. Carried in every envelope and mirrored into the PerformerRole
// read model for cross-aggregate checks.
type PerformerRole string

const (
	RolePhysician        PerformerRole = "physician"
	RoleNursePractitioner PerformerRole = "nurse_practitioner"
	RoleNurse            PerformerRole = "nurse"
	RoleMedicalAssistant PerformerRole = "medical_assistant"
	RoleFrontDesk        PerformerRole = "front_desk"
	RoleLabTechnician    PerformerRole = "lab_technician"
	RoleSystem           PerformerRole = "system"
)

var validPerformerRoles = map[PerformerRole]bool{
	RolePhysician:         true,
	RoleNursePractitioner: true,
	RoleNurse:             true,
	RoleMedicalAssistant:  true,
	RoleFrontDesk:         true,
	RoleLabTechnician:     true,
	RoleSystem:            true,
}

// ParsePerformerRole constructs a PerformerRole from external input.
func ParsePerformerRole(s string) (PerformerRole, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeValidation, "performer_role cannot be empty")
	}
	r := PerformerRole(s)
	if !r.IsValid() {
		return "", dErrors.Newf(dErrors.CodeValidation, "invalid performer_role: %q", s)
	}
	return r, nil
}

// IsValid checks membership in the supported roles.
func (r PerformerRole) IsValid() bool { return validPerformerRoles[r] }

func (r PerformerRole) String() string { return string(r) }

// ConnectionStatus records whether the producing device was online or
// offline at the moment the event was created.
type ConnectionStatus string

const (
	ConnectionOnline  ConnectionStatus = "online"
	ConnectionOffline ConnectionStatus = "offline"
)

// ParseConnectionStatus constructs a ConnectionStatus from external input.
func ParseConnectionStatus(s string) (ConnectionStatus, error) {
	switch ConnectionStatus(s) {
	case ConnectionOnline, ConnectionOffline:
		return ConnectionStatus(s), nil
	}
	return "", dErrors.Newf(dErrors.CodeValidation, "invalid connection_status: %q", s)
}

func (s ConnectionStatus) IsValid() bool {
	return s == ConnectionOnline || s == ConnectionOffline
}

func (s ConnectionStatus) String() string { return string(s) }
