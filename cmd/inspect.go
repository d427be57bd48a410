package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kgiusti/tokencore/internal/catalog"
)

var inspectEventCount int

var inspectCmd = &cobra.Command{
	Use:   "inspect audit-db-path",
	Short: "Print the most recent audit events recorded by a running token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := catalog.Open(args[0])
		if err != nil {
			return err
		}
		events, err := cat.Recent(inspectEventCount)
		if err != nil {
			return err
		}
		for _, ev := range events {
			fmt.Printf("%d\t%s\t%s\t%s\t%s\n", ev.Seq, ev.At.Format("2006-01-02T15:04:05"), ev.ClientID, ev.Kind, ev.Detail)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().IntVar(&inspectEventCount, "n", 50, "number of events to print")
}
