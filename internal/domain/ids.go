package domain

// SubjectID is the authenticated subject extracted from JWT claims (typically "sub").
// We model it as an opaque identifier: its format is controlled by the IdP.
type SubjectID string

// MemberID is an internal identifier for a marketplace member record
// (an adventurer or an agent).
type MemberID string

// CallID is an internal identifier for a trip-planning-call record.
type CallID string
