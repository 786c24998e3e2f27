// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/curioloop/nlsq/internal/problems"
	"github.com/spf13/cobra"
)

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the solvers and test problems",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PROBLEM\tN\tM\tCOST")
			for _, name := range problems.Names() {
				p, _ := problems.Lookup(name)
				fmt.Fprintf(tw, "%s\t%d\t%d\t%.6g\n", p.Name, p.N, p.M, p.Cost)
			}
			fmt.Fprintln(tw)
			fmt.Fprintln(tw, "SOLVER")
			for _, name := range solverNames {
				fmt.Fprintln(tw, name)
			}
			return tw.Flush()
		},
	}
}
