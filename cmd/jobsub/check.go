package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"jobsub/internal/generate"
)

var checkRequireAll bool

var checkCmd = &cobra.Command{
	Use:   "check [flags] <runs...>",
	Short: "Generate all configurations without writing or running anything",
	Long: `Check expands the template for every requested run and prints the names of
the configurations that would be written, the skipped runs (missing from the
parameter table) and every configuration with unresolved @key@ placeholders.

Exits non-zero on malformed input, on unresolved placeholders and, with
--require-all, on runs without a table entry.`,
	Args: cobra.ArbitraryArgs,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().BoolVar(&checkRequireAll, "require-all", false, "fail if a requested run has no table entry")
}

func runCheck(cmd *cobra.Command, args []string) error {
	p, err := prepare(args)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	count := 0
	var unresolved []*generate.UnresolvedError
	for v, err := range p.gen.Variants(context.Background()) {
		if err != nil {
			var ue *generate.UnresolvedError
			if !errors.As(err, &ue) {
				return err
			}
			unresolved = append(unresolved, ue)
			continue
		}
		count++
		fmt.Fprintf(out, "%s\n", v.Name)
	}

	if skipped := rep.Skipped(); len(skipped) > 0 {
		fmt.Fprintln(out, "\nSkipped runs:")
		for _, sk := range skipped {
			fmt.Fprintf(out, "  %s: %s\n", sk.Run, sk.Reason)
		}
	}
	if len(unresolved) > 0 {
		fmt.Fprintln(out, "\nUnresolved placeholders:")
		for _, ue := range unresolved {
			fmt.Fprintf(out, "  %s: %s\n", ue.Name, strings.Join(ue.Placeholders, ", "))
		}
	}
	fmt.Fprintf(out, "\n%d configuration(s) ok\n", count)

	if checkRequireAll {
		if err := p.table.CheckMatched(); err != nil {
			return err
		}
	}
	if len(unresolved) > 0 {
		return fmt.Errorf("%d configuration(s) with missing parameters", len(unresolved))
	}
	return nil
}
