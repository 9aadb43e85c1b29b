package flow

import (
	"strings"

	"github.com/BTreeMap/DonorPipe/internal/models"
)

// Terminal reply texts.
const (
	ReplyRegistered     = "You have successfully registered as a blood donor! Thank you for your willingness to donate."
	ReplyNoDonors       = "Sorry, no donors are available at the moment."
	ReplyGatewayFailure = "Sorry, we could not reach the donor service right now. Please try again later by starting over."
	matchesHeading      = "We found eligible donors for your request:\n\n"
)

// WelcomeBack greets a user who is already a registered donor.
func WelcomeBack(name string) string {
	return "Welcome back, " + name + "! You are already a registered donor."
}

// Welcome greets a user and lists the available commands.
func Welcome(name string) string {
	return "Welcome " + name + "!\n\nCommands:\n- /beadonor: Register as a donor\n- /requestblood: Request blood"
}

// FormatMatches renders a donor search result.
func FormatMatches(matches []models.DonorMatch) string {
	if len(matches) == 0 {
		return ReplyNoDonors
	}
	entries := make([]string, 0, len(matches))
	for _, m := range matches {
		entries = append(entries, "Name: "+m.Name+"\nContact: "+m.PhoneNumber+"\nLocation: "+m.Location.String())
	}
	return matchesHeading + strings.Join(entries, "\n\n")
}
