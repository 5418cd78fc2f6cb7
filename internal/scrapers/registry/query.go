package registry

import (
	"net/url"
	"strings"
)

// Query is a set of optional registry search filters, an empty string means unset.
type Query struct {
	CourseID           string `json:"courseId,omitempty"`
	CourseName         string `json:"courseName,omitempty"`
	City               string `json:"city,omitempty"`
	State              string `json:"state,omitempty"`
	Distance           string `json:"distance,omitempty"`
	DistanceComparison string `json:"distanceComparison,omitempty"`
	Measurer           string `json:"measurer,omitempty"`
	MaxDrop            string `json:"maxDrop,omitempty"`
	MaxSeparation      string `json:"maxSeparation,omitempty"`
	CertYear           string `json:"certYear,omitempty"`
	Status             string `json:"status,omitempty"`
	Type               string `json:"type,omitempty"`

	// UseCache selects whether cached search results may be served, it does not take part in
	// the form encoding or the cache key. nil means true.
	UseCache *bool `json:"useCache,omitempty"`
}

// CachingEnabled resolves UseCache to its default.
func (q Query) CachingEnabled() bool {
	return q.UseCache == nil || *q.UseCache
}

// Normalized trims surrounding whitespace from every filter.
func (q Query) Normalized() Query {
	out := q
	for _, field := range []*string{
		&out.CourseID, &out.CourseName, &out.City, &out.State,
		&out.Distance, &out.DistanceComparison, &out.Measurer, &out.MaxDrop,
		&out.MaxSeparation, &out.CertYear, &out.Status, &out.Type,
	} {
		*field = strings.TrimSpace(*field)
	}
	return out
}

// HasLocator reports whether the query names at least one of city, state, course id or
// course name.
func (q Query) HasLocator() bool {
	n := q.Normalized()
	return n.City != "" || n.State != "" || n.CourseID != "" || n.CourseName != ""
}

// FormField is a single key/value pair of the search form.
type FormField struct {
	Key   string
	Value string
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// Form returns the fields of the registry's search form in the order the form itself submits
// them. Every field is present (empty when unset) except the course number, which is only
// sent when the query names a course id.
func (q Query) Form() []FormField {
	fields := []FormField{
		{"searchBtn", "Search"},
		{"Status", q.Status},
		{"Type", q.Type},
	}
	if q.CourseID != "" {
		fields = append(fields, FormField{"mcc_course_num", q.CourseID})
	}

	if q.Distance != "" {
		fields = append(fields,
			FormField{"Dist", q.Distance},
			FormField{"Units", "m"},
			FormField{"courseDistanceComparison", orDefault(q.DistanceComparison, "=")},
		)
	} else {
		fields = append(fields,
			FormField{"Dist", ""},
			FormField{"Units", ""},
			FormField{"courseDistanceComparison", ""},
		)
	}

	fields = append(fields,
		FormField{"City", q.City},
		FormField{"State", q.State},
		FormField{"Name", q.CourseName},
		FormField{"Measurer", q.Measurer},
		FormField{"mwc_cert_num", ""},
	)

	if q.MaxDrop != "" {
		fields = append(fields,
			FormField{"mcc_drop", q.MaxDrop},
			FormField{"courseDropComparison", "<="},
		)
	} else {
		fields = append(fields,
			FormField{"mcc_drop", ""},
			FormField{"courseDropComparison", ""},
		)
	}

	if q.MaxSeparation != "" {
		fields = append(fields,
			FormField{"Sep", q.MaxSeparation},
			FormField{"courseSeparationComparison", "<="},
		)
	} else {
		// the form's own default
		fields = append(fields,
			FormField{"Sep", ""},
			FormField{"courseSeparationComparison", ">"},
		)
	}

	fields = append(fields,
		FormField{"courseCertYear", q.CertYear},
		FormField{"master_certifier_ln", ""},
	)

	return append(fields, FormField{"search-serialized", encodeFields(fields)})
}

// url.Values.Encode sorts by key, the form has to keep submission order.
func encodeFields(fields []FormField) string {
	var sb strings.Builder
	for i, f := range fields {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(f.Key))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(f.Value))
	}
	return sb.String()
}

// Encode returns the exact application/x-www-form-urlencoded request body of the query.
func (q Query) Encode() string {
	return encodeFields(q.Normalized().Form())
}

// CacheKey is the key search results for this query are cached under, two queries share a key
// exactly when they produce the same request body.
func (q Query) CacheKey() string {
	return "search-" + q.Encode()
}
