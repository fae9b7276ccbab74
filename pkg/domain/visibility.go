package domain

import dErrors "clinicore/pkg/domain-errors"

// Audience is a visibility tag restricting who may read an event. An
// envelope carries a set of tags; sync download filters on them so devices
// only receive what their organization is entitled to see.
//
// The tag set is enumerated here and nowhere else.
type Audience string

const (
	AudienceClinicalStaff  Audience = "clinical_staff"
	AudienceBilling        Audience = "billing"
	AudiencePatientPortal  Audience = "patient_portal"
	// AudiencePart2 marks records restricted under 42 CFR Part 2. An event
	// tagged with it alone reaches only devices holding the tag; an event
	// that also carries another tag reaches holders of either (see
	// VisibilityAllows).
	AudiencePart2 Audience = "part2_restricted"
)

var validAudiences = map[Audience]bool{
	AudienceClinicalStaff: true,
	AudienceBilling:       true,
	AudiencePatientPortal: true,
	AudiencePart2:         true,
}

// ParseAudience constructs an Audience from external input.
func ParseAudience(s string) (Audience, error) {
	a := Audience(s)
	if !validAudiences[a] {
		return "", dErrors.Newf(dErrors.CodeValidation, "invalid visibility tag: %q", s)
	}
	return a, nil
}

func (a Audience) String() string { return string(a) }

// DefaultVisibility is applied when a command does not narrow the audience.
func DefaultVisibility() []Audience {
	return []Audience{AudienceClinicalStaff}
}

// VisibilityAllows reports whether an event tagged with `tags` may be
// delivered to a reader holding `granted`. An event with no tags is
// unrestricted.
func VisibilityAllows(tags, granted []Audience) bool {
	if len(tags) == 0 {
		return true
	}
	held := make(map[Audience]bool, len(granted))
	for _, g := range granted {
		held[g] = true
	}
	for _, t := range tags {
		if held[t] {
			return true
		}
	}
	return false
}
