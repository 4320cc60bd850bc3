package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// searchCmd represents the search command
var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search all configured sources and resolve every episode",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		res, err := app.svc.Search(context.Background(), strings.Join(args, " "))
		if err != nil {
			return err
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}

		if len(res.Items) == 0 {
			fmt.Println("No results.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "SOURCE\tTITLE\tEPISODE\tSTREAM\t")
		for _, item := range res.Items {
			for _, ep := range item.Episodes {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n",
					item.Item.SourceKey, item.Item.Title, ep.Label, ep.Stream.FinalURL)
			}
		}
		w.Flush()
		if res.FromCache {
			fmt.Println("\n(served from cache)")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().Bool("json", false, "Print the full result as JSON")
}
