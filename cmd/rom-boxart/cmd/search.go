package cmd

import (
	"errors"
	"fmt"

	"github.com/blevesearch/bleve/v2"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-rom-boxart/index"
)

var (
	searchQuery     string
	searchIndexPath string
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search the index of identified ROMs",
	Long: `Runs a Bleve query string against the index built by 'process'.
Fields: name, fileName, filePath, platform, platformName, status, renamed, crc32.
Example: rom-boxart search -q '+platform:gba +status:BoxartMissing'`,
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().StringVarP(&searchQuery, "query", "q", "", "Bleve query string (required)")
	searchCmd.Flags().StringVar(&searchIndexPath, "index", "", "Index path (default <sdcard>/.rom-boxart/rom-boxart.bleve)")
	_ = searchCmd.MarkFlagRequired("query")
}

func runSearch(cmd *cobra.Command, args []string) error {
	path := searchIndexPath
	if path == "" {
		paths, err := resolveLayout(globalConfig)
		if err != nil {
			return err
		}
		path = paths.Index
	}

	// Open rather than OpenOrCreateIndex so a search never creates an index.
	idx, err := bleve.Open(path)
	if err != nil {
		if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
			return fmt.Errorf("no index at %s, run 'process' first", path)
		}
		return fmt.Errorf("failed to open index at %s: %w", path, err)
	}
	defer func() {
		if err := idx.Close(); err != nil {
			log.WithError(err).Error("Error closing Bleve index")
		}
	}()

	res, err := index.SearchIndex(idx, searchQuery)
	if err != nil {
		return fmt.Errorf("error performing search: %w", err)
	}
	log.Infof("Search finished. Hits: %d, Total: %d, Took: %s", len(res.Hits), res.Total, res.Took)

	if res.Total == 0 {
		fmt.Println("No results found matching your query.")
		return nil
	}
	rows := make([][]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		rows = append(rows, []string{
			fieldString(hit.Fields, "platform"),
			fieldString(hit.Fields, "name"),
			fieldString(hit.Fields, "filePath"),
			fieldString(hit.Fields, "status"),
			fmt.Sprintf("%.2f", hit.Score),
		})
	}
	fmt.Println(renderTable([]string{"Platform", "Name", "Path", "Status", "Score"}, rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight}))
	return nil
}

func fieldString(fields map[string]interface{}, name string) string {
	if v, ok := fields[name]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}
