package flow

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/BTreeMap/DonorPipe/internal/models"
)

// ErrValidation is matched by every *ValidationError.
var ErrValidation = errors.New("invalid answer")

// ValidationError reports a rejected answer together with the text to re-prompt with.
type ValidationError struct {
	Field    models.FieldName
	Input    string
	Reprompt string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %q", e.Field, e.Input)
}

// Is makes errors.Is(err, ErrValidation) succeed.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Re-prompt texts for rejected answers.
const (
	RepromptBloodGroup = "Invalid blood group. Please choose one of: A+, A-, B+, B-, AB+, AB-, O+, O-."
	RepromptDate       = "Invalid date. Please use the format yyyy-mm-dd."
	RepromptUnits      = "Please enter a valid number of units (a whole number greater than zero)."
)

// Only the shape is checked; 2024-13-40 passes.
var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// ValidateBloodGroup accepts exactly one of models.BloodGroups.
func ValidateBloodGroup(raw string) (string, error) {
	v := strings.TrimSpace(raw)
	if !models.IsBloodGroup(v) {
		return "", &ValidationError{Field: models.FieldBloodGroup, Input: raw, Reprompt: RepromptBloodGroup}
	}
	return v, nil
}

// ValidateDate accepts yyyy-mm-dd by pattern only.
func ValidateDate(raw string) (string, error) {
	v := strings.TrimSpace(raw)
	if !datePattern.MatchString(v) {
		return "", &ValidationError{Field: models.FieldLastDonationDate, Input: raw, Reprompt: RepromptDate}
	}
	return v, nil
}

// ValidateUnits accepts a base-10 integer greater than zero.
func ValidateUnits(raw string) (string, error) {
	v := strings.TrimSpace(raw)
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return "", &ValidationError{Field: models.FieldUnitsNeeded, Input: raw, Reprompt: RepromptUnits}
	}
	return strconv.Itoa(n), nil
}

// ValidateFreeText accepts anything and trims surrounding whitespace.
func ValidateFreeText(raw string) (string, error) {
	return strings.TrimSpace(raw), nil
}

// Validate runs the validator of step stepIndex of the given flow.
func Validate(kind models.FlowKind, stepIndex int, raw string) (string, error) {
	def, ok := Get(kind)
	if !ok {
		return "", fmt.Errorf("unknown flow kind %q", kind)
	}
	step, ok := def.Step(stepIndex)
	if !ok {
		return "", fmt.Errorf("step %d out of range for flow %s", stepIndex, kind)
	}
	return step.Validate(raw)
}
