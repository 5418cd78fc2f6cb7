package registry

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestParseDistance(t *testing.T) {
	testCases := []struct {
		text   string
		meters float64
	}{
		{text: "5K", meters: 5000},
		{text: "5 km", meters: 5000},
		{text: "10 km", meters: 10000},
		{text: "10K", meters: 10000},
		{text: "Half Marathon", meters: 21097},
		{text: "half marathon", meters: 21097},
		{text: "Marathon", meters: 42195},
		{text: "15 mi", meters: 24140.1},
		{text: "8 km", meters: 8000},
		{text: "1609.34", meters: 1609.34},
		{text: "1500 m", meters: 1500},
		{text: "unknown", meters: 5000},
		{text: "", meters: 5000},
	}

	for _, test := range testCases {
		require.InDelta(t, test.meters, ParseDistance(test.text), 0.001, test.text)
	}
}

func TestCourseIDPattern(t *testing.T) {
	testCases := []struct {
		text  string
		match bool
	}{
		{text: "KS12345ABC", match: true},
		{text: "TX98765A", match: true},
		{text: "CA00001AB", match: true},
		{text: "K12345ABC", match: false},
		{text: "KS1234ABC", match: false},
		{text: "KS12345", match: false},
		{text: "ks12345abc", match: false},
	}
	for _, test := range testCases {
		require.Equal(t, test.match, IsCourseID(test.text), test.text)
		require.Equal(t, test.match, CourseIDPattern.MatchString(test.text), test.text)
	}
}

func resultRow(index int, id, href, name, distance string) string {
	idCell := id
	if href != "" {
		idCell = fmt.Sprintf(`<a href="%s">%s</a>`, href, id)
	}
	return fmt.Sprintf(`<tr>
		<td>%d</td><td>%s</td><td>%s</td><td>%s</td><td>Lawrence</td><td>KS</td>
		<td>Jane Doe</td><td>Smith</td><td>Road</td><td>1.2</td><td>14.5%%</td>
		<td>Y</td><td>A</td><td>12/31/2031</td><td></td><td>N</td>
	</tr>`, index, idCell, name, distance)
}

func resultPage(rows ...string) []byte {
	return []byte(fmt.Sprintf(`<html><body>
		<div id = "results"><table>
			<tr><th>#</th><th>Course</th><th>Name</th></tr>
			%s
		</table></div>
	</body></html>`, strings.Join(rows, "\n")))
}

func TestParseTable(t *testing.T) {
	body := resultPage(
		resultRow(1, "KS12345ABC", "/course/KS12345ABC", "Free State 5K", "5 km"),
		resultRow(2, "KS54321XY", "", "", "Half Marathon"),
	)

	courses, err := TableParser{}.Parse(context.Background(), body)
	require.NoError(t, err)

	expected := []Course{
		{
			ID:                "KS12345ABC",
			Name:              "Free State 5K",
			City:              "Lawrence",
			State:             "KS",
			DistanceMeters:    5000,
			Measurer:          "Jane Doe",
			CertifierLastName: "Smith",
			CourseType:        "Road",
			CertificationYear: "12/31/2031",
			Status:            "A",
			Drop:              1.2,
			Separation:        14.5,
			Expiration:        "12/31/2031",
			CertificateURL:    "/course/KS12345ABC",
		},
		{
			ID:                "KS54321XY",
			Name:              "Course KS54321XY",
			City:              "Lawrence",
			State:             "KS",
			DistanceMeters:    21097,
			Measurer:          "Jane Doe",
			CertifierLastName: "Smith",
			CourseType:        "Road",
			CertificationYear: "12/31/2031",
			Status:            "A",
			Drop:              1.2,
			Separation:        14.5,
			Expiration:        "12/31/2031",
		},
	}
	if diff := cmp.Diff(expected, courses); diff != "" {
		t.Fatalf("courses mismatch (-want +got):\n%s", diff)
	}

	again, err := TableParser{}.Parse(context.Background(), body)
	require.NoError(t, err)
	require.Equal(t, courses, again)
}

func TestParseNoResults(t *testing.T) {
	body := []byte(`<html><body><p>No courses match your search criteria.</p>
		<table><tr><td>KS12345ABC</td></tr></table></body></html>`)

	courses, err := TableParser{}.Parse(context.Background(), body)
	require.NoError(t, err)
	require.NotNil(t, courses)
	require.Empty(t, courses)
}

func TestParseShortRowsSkipped(t *testing.T) {
	body := resultPage(
		`<tr><td>1</td><td>KS11111AA</td><td>Too short</td></tr>`,
		resultRow(2, "KS22222BB", "/c/2", "Complete", "10K"),
	)

	courses, err := TableParser{}.Parse(context.Background(), body)
	require.NoError(t, err)
	require.Len(t, courses, 1)
	require.Equal(t, "KS22222BB", courses[0].ID)
	require.Equal(t, float64(10000), courses[0].DistanceMeters)
}

func TestParseDegraded(t *testing.T) {
	body := []byte(`<html><body>
		<ul>
			<li>KS12345ABC - Free State</li>
			<li><a href="/c/TX54321B">TX54321B</a></li>
			<li>KS12345ABC again</li>
		</ul>
		<table><tr><td>1</td><td>MO11111C</td></tr></table>
	</body></html>`)

	courses, err := TableParser{}.Parse(context.Background(), body)
	require.NoError(t, err)

	expected := []Course{
		{ID: "KS12345ABC", Name: "Course KS12345ABC", DistanceMeters: 5000, Status: "A"},
		{ID: "TX54321B", Name: "Course TX54321B", DistanceMeters: 5000, Status: "A"},
		{ID: "MO11111C", Name: "Course MO11111C", DistanceMeters: 5000, Status: "A"},
	}
	if diff := cmp.Diff(expected, courses); diff != "" {
		t.Fatalf("courses mismatch (-want +got):\n%s", diff)
	}
}

func TestParseEmptyPage(t *testing.T) {
	courses, err := TableParser{}.Parse(context.Background(), []byte(`<html><body>maintenance</body></html>`))
	require.NoError(t, err)
	require.Empty(t, courses)
}
