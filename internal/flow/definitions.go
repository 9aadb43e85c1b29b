package flow

import "github.com/BTreeMap/DonorPipe/internal/models"

// RegistrationFlow collects a new donor's details.
var RegistrationFlow = &Definition{
	Kind: models.FlowKindRegistration,
	Steps: []Step{
		{Field: models.FieldPhoneNumber, Prompt: "Please provide your phone number.", Validate: ValidateFreeText},
		{Field: models.FieldBloodGroup, Prompt: "Please provide your blood group (e.g., A+, B-, O+).", QuickReplies: models.BloodGroups, Validate: ValidateBloodGroup},
		{Field: models.FieldLastDonationDate, Prompt: "Please provide your last donation date (yyyy-mm-dd).", Validate: ValidateDate},
		{Field: models.FieldLocation, Prompt: "Please provide your location (Locality, Panchayat, District).", Validate: ValidateFreeText},
	},
}

// RequestFlow collects a blood request and ends with a donor search.
var RequestFlow = &Definition{
	Kind: models.FlowKindRequest,
	Steps: []Step{
		{Field: models.FieldBloodGroup, Prompt: "What is your blood group? (e.g., A+, B-, O+)", QuickReplies: models.BloodGroups, Validate: ValidateBloodGroup},
		{Field: models.FieldUnitsNeeded, Prompt: "How many units of blood do you need?", Validate: ValidateUnits},
		{Field: models.FieldLocation, Prompt: "Enter your location (Locality, Panchayat, District):", Validate: ValidateFreeText},
	},
}
