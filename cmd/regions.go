package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dnitsch/aws-account/internal/regionalaccount"
)

var (
	partitions     []string
	includeRegions []string
	excludeRegions []string
	nonRegional    bool

	regionsCmd = &cobra.Command{
		Use:   "regions",
		Short: "Expands a region filter without calling AWS",
		Long: `Expand partitions, includes and excludes into the concrete region list a
regional dispatcher set would cover. Useful for checking a filter before
pointing it at real accounts.`,
		RunE: expandRegions,
	}
)

func init() {
	regionsCmd.PersistentFlags().StringSliceVarP(&partitions, "partition", "", []string{"aws"}, "Partitions to expand [aws aws-us-gov aws-cn]")
	regionsCmd.PersistentFlags().StringSliceVarP(&includeRegions, "include", "", nil, "Regions admitted verbatim instead of the partition expansion")
	regionsCmd.PersistentFlags().StringSliceVarP(&excludeRegions, "exclude", "", nil, "Regions removed after expansion, wins over include")
	regionsCmd.PersistentFlags().BoolVarP(&nonRegional, "non-regional", "", false, "Admit the partition global pseudo region")
	RootCmd.AddCommand(regionsCmd)
}

func expandRegions(cmd *cobra.Command, args []string) error {
	filter := regionalaccount.Filter{Partitions: map[string]regionalaccount.RegionFilter{}}
	for _, p := range partitions {
		filter.Partitions[p] = regionalaccount.RegionFilter{
			IncludeNonRegional: nonRegional,
			Include:            includeRegions,
			Exclude:            excludeRegions,
		}
	}
	for _, region := range filter.Regions() {
		fmt.Fprintln(cmd.OutOrStdout(), region)
	}
	return nil
}
