package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// parseCmd represents the parse command
var parseCmd = &cobra.Command{
	Use:   "parse <episode-url>",
	Short: "Resolve a single episode page URL to a playable stream",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		stream, ok := app.svc.Resolve(context.Background(), args[0])
		if !ok {
			return fmt.Errorf("could not resolve %s with any backend", args[0])
		}
		fmt.Println(stream.FinalURL)
		if stream.ArtifactID != "" {
			fmt.Printf("artifact: %s\n", stream.ArtifactID)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(parseCmd)
}
