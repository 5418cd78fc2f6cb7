package registry

import (
	"net/url"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func formKeys(fields []FormField) []string {
	keys := []string{}
	for _, f := range fields {
		keys = append(keys, f.Key)
	}
	return keys
}

func formValue(t *testing.T, fields []FormField, key string) string {
	t.Helper()
	for _, f := range fields {
		if f.Key == key {
			return f.Value
		}
	}
	t.Fatalf("form field %s missing", key)
	return ""
}

func TestFormFieldOrder(t *testing.T) {
	expected := []string{
		"searchBtn", "Status", "Type",
		"Dist", "Units", "courseDistanceComparison",
		"City", "State", "Name", "Measurer", "mwc_cert_num",
		"mcc_drop", "courseDropComparison",
		"Sep", "courseSeparationComparison",
		"courseCertYear", "master_certifier_ln",
		"search-serialized",
	}
	if diff := cmp.Diff(expected, formKeys(Query{City: "Lawrence"}.Form())); diff != "" {
		t.Fatalf("field order mismatch (-want +got):\n%s", diff)
	}

	withID := formKeys(Query{CourseID: "KS12345ABC"}.Form())
	require.Equal(t, "mcc_course_num", withID[3])
	require.Len(t, withID, len(expected)+1)
}

func TestFormDefaults(t *testing.T) {
	testCases := []struct {
		name     string
		query    Query
		expected map[string]string
	}{
		{
			name:  "nothing set",
			query: Query{},
			expected: map[string]string{
				"Dist":                       "",
				"Units":                      "",
				"courseDistanceComparison":   "",
				"mcc_drop":                   "",
				"courseDropComparison":       "",
				"Sep":                        "",
				"courseSeparationComparison": ">",
				"Status":                     "",
			},
		},
		{
			name:  "distance defaults to equality in meters",
			query: Query{Distance: "5000"},
			expected: map[string]string{
				"Dist":                     "5000",
				"Units":                    "m",
				"courseDistanceComparison": "=",
			},
		},
		{
			name:  "explicit distance comparison",
			query: Query{Distance: "10000", DistanceComparison: ">="},
			expected: map[string]string{
				"courseDistanceComparison": ">=",
			},
		},
		{
			name:  "drop and separation are upper bounds",
			query: Query{MaxDrop: "5.5", MaxSeparation: "50"},
			expected: map[string]string{
				"mcc_drop":                   "5.5",
				"courseDropComparison":       "<=",
				"Sep":                        "50",
				"courseSeparationComparison": "<=",
			},
		},
		{
			name:  "plain filters",
			query: Query{City: "Lawrence", State: "KS", CourseName: "Free State", Measurer: "Smith", CertYear: "2020", Status: "A", Type: "road"},
			expected: map[string]string{
				"City":           "Lawrence",
				"State":          "KS",
				"Name":           "Free State",
				"Measurer":       "Smith",
				"courseCertYear": "2020",
				"Status":         "A",
				"Type":           "road",
			},
		},
	}

	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			form := test.query.Form()
			for key, value := range test.expected {
				require.Equal(t, value, formValue(t, form, key), key)
			}
		})
	}
}

func TestSearchSerialized(t *testing.T) {
	query := Query{City: "Kansas City", State: "MO", MaxDrop: "1"}
	form := query.Form()

	serialized := formValue(t, form, "search-serialized")
	require.Equal(t, encodeFields(form[:len(form)-1]), serialized)

	decoded, err := url.ParseQuery(serialized)
	require.NoError(t, err)
	require.Equal(t, "Kansas City", decoded.Get("City"))
	require.Equal(t, "<=", decoded.Get("courseDropComparison"))
	require.Contains(t, serialized, "City=Kansas+City")
}

func TestCacheKeyDeterminism(t *testing.T) {
	useCache := false
	a := Query{City: "Lawrence", State: "KS"}
	b := Query{State: "KS", City: "Lawrence", UseCache: &useCache}
	c := Query{City: " Lawrence ", State: "KS"}
	d := Query{City: "Lawrence", State: "MO"}

	require.Equal(t, a.Encode(), b.Encode())
	require.Equal(t, a.CacheKey(), b.CacheKey())
	require.Equal(t, a.CacheKey(), c.CacheKey())
	require.NotEqual(t, a.CacheKey(), d.CacheKey())
	require.Equal(t, "search-"+a.Encode(), a.CacheKey())

	for i := 0; i < 5; i++ {
		require.Equal(t, a.Encode(), Query{City: "Lawrence", State: "KS"}.Encode())
	}
}

func TestQueryHelpers(t *testing.T) {
	disabled := false
	require.True(t, Query{}.CachingEnabled())
	require.False(t, Query{UseCache: &disabled}.CachingEnabled())

	testCases := []struct {
		query   Query
		locator bool
	}{
		{query: Query{}, locator: false},
		{query: Query{Distance: "5000", Status: "A"}, locator: false},
		{query: Query{City: "   "}, locator: false},
		{query: Query{City: "Austin"}, locator: true},
		{query: Query{State: "TX"}, locator: true},
		{query: Query{CourseID: "TX12345AB"}, locator: true},
		{query: Query{CourseName: "Cap10K"}, locator: true},
	}
	for _, test := range testCases {
		require.Equal(t, test.locator, test.query.HasLocator(), test.query)
	}
}
