package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/backoffice/internal/documents"
)

func newNumbersCmd(e *env) *cobra.Command {
	numbers := &cobra.Command{Use: "numbers", Short: "Document numbering"}

	var (
		kind string
		year int
	)
	next := &cobra.Command{
		Use:   "next",
		Short: "Preview the next document number; nothing is reserved",
		RunE: func(cmd *cobra.Command, args []string) error {
			k := documents.Kind(kind)
			if _, ok := documents.Spec(k); !ok {
				return fmt.Errorf("unknown kind %q", kind)
			}
			if year == 0 {
				year = time.Now().UTC().Year()
			}
			number, err := e.numbers.NextNumber(cmd.Context(), k, year)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), number)
			return nil
		},
	}
	next.Flags().StringVar(&kind, "kind", string(documents.KindInvoice), "document kind")
	next.Flags().IntVar(&year, "year", 0, "year of issue (default: current UTC year)")
	numbers.AddCommand(next)
	return numbers
}
