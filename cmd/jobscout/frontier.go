package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/amishk599/jobscout/internal/console"
)

var frontierSource string

var frontierCmd = &cobra.Command{
	Use:   "frontier",
	Short: "List the crawl frontier",
	Long:  "Prints every frontier organization in crawl order, with last crawl time and mute status.",
	RunE:  runFrontier,
}

func init() {
	frontierCmd.Flags().StringVar(&frontierSource, "source", "", "only show rows for this source")
	rootCmd.AddCommand(frontierCmd)
}

func runFrontier(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	orgs, err := st.ListFrontier(cmd.Context(), frontierSource)
	if err != nil {
		return err
	}
	fmt.Println(console.RenderFrontier(orgs, time.Now()))
	return nil
}
