package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cwbudde/diffevo/internal/testfuncs"
)

var functionsCmd = &cobra.Command{
	Use:   "functions",
	Short: "List the built-in objective functions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tDIMENSIONS\tBOUNDS\tOPTIMUM")
		fmt.Fprintln(w, "----\t----------\t------\t-------")
		for _, f := range testfuncs.All() {
			arity := "any"
			optimum := fmt.Sprintf("%g", f.Optimum)
			if f.Arity > 0 {
				arity = fmt.Sprint(f.Arity)
			}
			if f.PerDimension {
				optimum += " * n"
			}
			fmt.Fprintf(w, "%s\t%s\t[%g, %g]\t%s\n", f.Name, arity, f.Min, f.Max, optimum)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(functionsCmd)
}
