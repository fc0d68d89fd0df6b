package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/voide-engine/pkg/flowgraph"
)

func newValidateCmd(_ *app) *cobra.Command {
	var terminals []string

	cmd := &cobra.Command{
		Use:   "validate <canvas>",
		Short: "Check a canvas and report its first problem",
		Long: `Validate runs the menu, dangling-edge, type, cycle and output checks in
that order. It prints OK, or the first failure as JSON and exits 1.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flowgraph.LoadCanvas(args[0])
			if err != nil {
				return err
			}

			var opts []flowgraph.ValidateOption
			if len(terminals) > 0 {
				opts = append(opts, flowgraph.WithTerminalTypes(terminals...))
			}
			err = flowgraph.ValidateCanvas(*c, opts...)

			var be *flowgraph.BuildError
			switch {
			case err == nil:
				fmt.Fprintln(cmd.OutOrStdout(), "OK")
				return nil
			case errors.As(err, &be):
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(be); encErr != nil {
					return encErr
				}
				return errReported
			default:
				return err
			}
		},
	}
	cmd.Flags().StringSliceVar(&terminals, "terminal-types", nil,
		"node types whose out-ports may stay unconnected (default: output)")
	return cmd
}

func newOrderCmd(_ *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "order <canvas>",
		Short: "Print the topological execution order of a canvas",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flowgraph.LoadCanvas(args[0])
			if err != nil {
				return err
			}
			order, err := flowgraph.TopoOrder(*c)
			if err != nil {
				return fmt.Errorf("%w (placed %d of %d nodes)", err, len(order), len(c.Nodes))
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return json.NewEncoder(out).Encode(order)
			}
			for _, id := range order {
				fmt.Fprintln(out, id)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the order as a JSON array")
	return cmd
}
