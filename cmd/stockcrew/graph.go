package main

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/smkhb/Stock-Agent/pkg/planner"
)

func newGraphCmd(c *cli) *cobra.Command {
	var (
		graphPath string
		format    string
	)
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Validate the task graph and print it in execution order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			g, err := loadGraph(graphPath)
			if err != nil {
				return err
			}
			order, err := g.TopologicalOrder()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if c.flags.JSON {
				format = "json"
			}
			switch format {
			case "json", "yaml":
				data, err := planner.Marshal(g, planner.Format(format))
				if err != nil {
					return err
				}
				fmt.Fprintln(out, strings.TrimRight(string(data), "\n"))
			case "table", "":
				tw := table.NewWriter()
				tw.SetOutputMirror(out)
				tw.AppendHeader(table.Row{"#", "Task", "Agent", "Depends On"})
				for i, t := range order {
					tw.AppendRow(table.Row{i + 1, t.ID, t.Agent, strings.Join(t.DependsOn, ", ")})
				}
				tw.AppendFooter(table.Row{"", "inputs", strings.Join(g.RequiredInputs(), ", "), ""})
				tw.Render()
			default:
				return fmt.Errorf("unknown format %q", format)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&graphPath, "graph", "", "task graph file (yaml or json); defaults to the bundled crew graph")
	cmd.Flags().StringVarP(&format, "output", "o", "table", "output format: table, json or yaml")
	return cmd
}
