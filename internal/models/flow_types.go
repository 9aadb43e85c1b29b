// Package models defines flow type definitions to avoid circular imports.
package models

// FlowKind identifies which wizard a session is running.
type FlowKind string

// FieldName is the key under which a step stores its normalized answer.
type FieldName string

// Flow kind constants.
const (
	FlowKindRegistration FlowKind = "registration"
	FlowKindRequest      FlowKind = "request"
)

// IsValid reports whether k names a known flow.
func (k FlowKind) IsValid() bool {
	switch k {
	case FlowKindRegistration, FlowKindRequest:
		return true
	default:
		return false
	}
}

// Field name constants shared by both flows.
const (
	FieldPhoneNumber      FieldName = "phoneNumber"
	FieldBloodGroup       FieldName = "bloodGroup"
	FieldLastDonationDate FieldName = "lastDonationDate"
	FieldLocation         FieldName = "location"
	FieldUnitsNeeded      FieldName = "unitsNeeded"
)

// BloodGroups is the fixed set of accepted blood groups, in display order.
var BloodGroups = []string{"A+", "A-", "B+", "B-", "AB+", "AB-", "O+", "O-"}

// IsBloodGroup reports whether s is exactly one of BloodGroups (case-sensitive).
func IsBloodGroup(s string) bool {
	for _, g := range BloodGroups {
		if s == g {
			return true
		}
	}
	return false
}
