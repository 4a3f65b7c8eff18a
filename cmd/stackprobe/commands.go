package main

import (
	"errors"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/olegrjumin/stackprobe/internal/config"
	"github.com/olegrjumin/stackprobe/internal/report"
	"github.com/olegrjumin/stackprobe/internal/techdb"
)

func newTaxonomyCmd(verbose *bool) *cobra.Command {
	var pretty bool

	cmd := &cobra.Command{
		Use:   "taxonomy",
		Short: "List the categories and groups of the rule database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadCLI(*verbose)
			if err != nil {
				return err
			}
			db, err := techdb.Load(cmdContext(cmd), cfg.TechDBSource, cfg.DataRoot)
			if err != nil {
				return err
			}
			logger.Debug("Rule database loaded", "source", db.Meta.Source, "technologies", db.Meta.TechCount)
			return writeJSON(cmd.OutOrStdout(), techdb.Taxonomy(db), pretty)
		},
	}
	cmd.Flags().BoolVar(&pretty, "pretty", false, "indent the JSON output")
	return cmd
}

func newValidateMappingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-mapping [path]",
		Short: "Check a recommendation mapping file (default: MAPPING_PATH)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				path = cfg.MappingPath
			}

			out := cmd.OutOrStdout()
			m, err := report.LoadMapping(path)
			if err != nil {
				var me *report.MappingError
				if !errors.As(err, &me) {
					return err
				}
				for _, p := range me.Problems {
					pterm.Error.WithWriter(out).Println(p)
				}
				return fmt.Errorf("%s has %d problem(s)", path, len(me.Problems))
			}

			pterm.Success.WithWriter(out).Printfln("%s is valid", path)
			return pterm.DefaultTable.WithHasHeader(true).WithWriter(out).WithData(pterm.TableData{
				{"Section", "Keys"},
				{report.SectionByTechnology, fmt.Sprint(len(m.ByTechnology))},
				{report.SectionByCategory, fmt.Sprint(len(m.ByCategory))},
				{report.SectionByGroup, fmt.Sprint(len(m.ByGroup))},
				{report.SectionByCategoryID, fmt.Sprint(len(m.ByCategoryID))},
				{report.SectionByGroupID, fmt.Sprint(len(m.ByGroupID))},
			}).Render()
		},
	}
}
