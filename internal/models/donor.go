package models

import "strings"

// Location is where a donor can be found.
type Location struct {
	Locality  string `json:"locality"`
	Panchayat string `json:"panchayat"`
	District  string `json:"district"`
}

// ParseLocation splits "Locality, Panchayat, District" on commas.
// Each part is trimmed; missing parts are empty and parts beyond the third are ignored.
func ParseLocation(raw string) Location {
	parts := strings.Split(raw, ",")
	get := func(i int) string {
		if i < len(parts) {
			return strings.TrimSpace(parts[i])
		}
		return ""
	}
	return Location{
		Locality:  get(0),
		Panchayat: get(1),
		District:  get(2),
	}
}

// String renders the location the way it is shown to users.
func (l Location) String() string {
	return l.Locality + ", " + l.Panchayat + ", " + l.District
}

// Contains reports whether any part of the location contains sub (case-insensitive).
func (l Location) Contains(sub string) bool {
	sub = strings.ToLower(strings.TrimSpace(sub))
	if sub == "" {
		return true
	}
	for _, p := range []string{l.Locality, l.Panchayat, l.District, l.String()} {
		if strings.Contains(strings.ToLower(p), sub) {
			return true
		}
	}
	return false
}

// DonorRecord is the payload of a donor registration.
type DonorRecord struct {
	UserID           UserID   `json:"telegram_id"`
	Name             string   `json:"name"`
	PhoneNumber      string   `json:"phone_number"`
	BloodGroup       string   `json:"blood_group"`
	LastDonationDate string   `json:"last_donation_date"`
	Location         Location `json:"location"`
}

// DonorRef identifies a stored donor.
type DonorRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DonorMatch is one donor returned for a blood request.
type DonorMatch struct {
	Name        string   `json:"name"`
	PhoneNumber string   `json:"phone_number"`
	Location    Location `json:"location"`
}
