package registry

import "regexp"

// DefaultBaseURL is the public race-course registry.
const DefaultBaseURL = "https://certifiedroadraces.com"

// CourseIDPattern matches a registry course id: two letters, five digits and one to three
// letters (ex. KS12345ABC).
var CourseIDPattern = regexp.MustCompile(`[A-Z]{2}\d{5}[A-Z]{1,3}`)

var exactCourseID = regexp.MustCompile(`^[A-Z]{2}\d{5}[A-Z]{1,3}$`)

// IsCourseID reports whether s is exactly one course id.
func IsCourseID(s string) bool {
	return exactCourseID.MatchString(s)
}

// Course is a single certified course as listed by the registry.
type Course struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	City              string  `json:"city"`
	State             string  `json:"state"`
	DistanceMeters    float64 `json:"distance"`
	Measurer          string  `json:"measurer"`
	CertifierLastName string  `json:"certifierLastName"`
	CourseType        string  `json:"type"`
	CertificationYear string  `json:"certYear"`
	Status            string  `json:"status"`
	Drop              float64 `json:"drop"`
	Separation        float64 `json:"separation"`
	Expiration        string  `json:"expiration"`
	CertificateURL    string  `json:"certificateUrl,omitempty"`
}
