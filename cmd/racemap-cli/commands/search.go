package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"racemap-backend/internal/scrapers/registry"
	"racemap-backend/internal/serviceutil"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	searchQuery   registry.Query
	searchNoCache *bool
	searchJSON    *bool
)

func init() {
	flags := searchCmd.Flags()
	flags.StringVar(&searchQuery.CourseID, "id", "", "Course id, ex. KS12345ABC.")
	flags.StringVar(&searchQuery.CourseName, "name", "", "Course name (substring).")
	flags.StringVar(&searchQuery.City, "city", "", "City.")
	flags.StringVar(&searchQuery.State, "state", "", "Two letter state code.")
	flags.StringVar(&searchQuery.Distance, "distance", "", "Distance in meters.")
	flags.StringVar(&searchQuery.DistanceComparison, "comparison", "", `Distance comparison, defaults to "=".`)
	flags.StringVar(&searchQuery.Measurer, "measurer", "", "Measurer name.")
	flags.StringVar(&searchQuery.MaxDrop, "max-drop", "", "Maximum drop.")
	flags.StringVar(&searchQuery.MaxSeparation, "max-separation", "", "Maximum separation.")
	flags.StringVar(&searchQuery.CertYear, "year", "", "Certification year.")
	flags.StringVar(&searchQuery.Status, "status", "", "Course status, ex. A.")
	flags.StringVar(&searchQuery.Type, "type", "", "Course type.")
	searchNoCache = flags.Bool("no-cache", false, "Skip the search result cache.")
	searchJSON = flags.Bool("json", false, "Print the raw result as JSON.")
	rootCmd.AddCommand(searchCmd)
}

var searchCmd = &cobra.Command{
	Use:   "search [--city <city>] [--state <state>] [--id <id>] [--name <name>] ...",
	Short: "Searches the registry and resolves a document for every course found.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		app := openApp(ctx)
		defer closeApp(ctx, app)

		query := searchQuery
		if *searchNoCache {
			useCache := false
			query.UseCache = &useCache
		}

		result, err := app.Courses.Search(ctx, query)
		if err != nil {
			serviceutil.Fatal("search failed", err)
		}

		if *searchJSON {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			err = encoder.Encode(result)
			if err != nil {
				serviceutil.Fatal("failed to encode result", err)
			}
			return
		}

		t := newTable()
		t.AppendHeader(table.Row{"Id", "Name", "City", "State", "Distance (m)", "Status", "Document"})
		for _, course := range result.Courses {
			t.AppendRow(table.Row{
				course.ID,
				course.Name,
				course.City,
				course.State,
				strconv.FormatFloat(course.DistanceMeters, 'f', -1, 64),
				course.Status,
				course.PdfURL,
			})
		}
		t.Render()
		fmt.Println(result.Message)
	},
}
