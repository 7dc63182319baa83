package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/saroudant/tombo/internal/tombo"
)

// resquiggleCmd represents the resquiggle command
var resquiggleCmd = &cobra.Command{
	Use:   "resquiggle",
	Short: "Re-segment raw signal against a reference genome",
	Long: `Re-segment each read's raw signal so that every segment corresponds to
exactly one base of the reference-aligned sequence.

"tombo resquiggle" maps each read's basecalls against a reference genome with
an external mapper (minimap2, bwa-mem or graphmap), then corrects the
basecaller's event boundaries wherever the alignment shows insertions or
deletions by locating statistically optimal changepoints in the raw signal.
Corrected segmentations and an index of processed reads are written back
beside the read files.`,
	Run: tombo.Resquiggle,
}

func init() {
	RootCmd.AddCommand(resquiggleCmd)

	// input locations
	resquiggleCmd.Flags().StringP("reads-dir", "r", "", "directory containing raw read files")
	resquiggleCmd.Flags().StringP("genome-fasta", "g", "", "path to the reference genome FASTA")
	resquiggleCmd.Flags().String("basecall-group", "Basecall_1D_000", "basecall group to process")
	resquiggleCmd.Flags().StringSlice("basecall-subgroups", []string{"BaseCalled_template"}, "basecall subgroups to process")
	resquiggleCmd.Flags().String("corrected-group", "RawGenomeCorrected_000", "group name for corrected output")

	// external mapper
	resquiggleCmd.Flags().String("minimap2", "", "path to the minimap2 executable")
	resquiggleCmd.Flags().String("minimap2-index", "", "path to a prebuilt minimap2 index")
	resquiggleCmd.Flags().String("bwa-mem", "", "path to the bwa-mem executable")
	resquiggleCmd.Flags().String("graphmap", "", "path to the graphmap executable")

	// normalization
	resquiggleCmd.Flags().String("normalization-type", "median", "signal normalization: identity, median or pA")
	resquiggleCmd.Flags().Float64("outlier-threshold", 5, "clamp normalized signal beyond this many scale units; <= 0 disables")
	resquiggleCmd.Flags().String("pore-model-filename", "", "tab-separated pore model for pA normalization")

	// segmentation
	resquiggleCmd.Flags().Int("min-obs-per-base", 0, "minimum raw observations per base (0: per-molecule default)")
	resquiggleCmd.Flags().Int("running-stat-width", 0, "running mean comparison width (0: per-molecule default)")
	resquiggleCmd.Flags().Int("cpts-limit", 0, "maximum changepoints per indel group (0: no limit)")
	resquiggleCmd.Flags().Float64("timeout", 0, "per-read re-segmentation timeout in seconds (0: no timeout)")

	// pipeline sizing
	resquiggleCmd.Flags().IntP("processes", "p", 2, "total worker count split between pools")
	resquiggleCmd.Flags().Int("align-processes", 0, "alignment pool size (0: half of processes)")
	resquiggleCmd.Flags().Int("align-threads-per-process", 0, "threads per mapper invocation")
	resquiggleCmd.Flags().Int("resquiggle-processes", 0, "resegmentation pool size (0: half of processes)")
	resquiggleCmd.Flags().Int("alignment-batch-size", 500, "reads per mapper invocation")

	// outputs
	resquiggleCmd.Flags().Bool("skip-index", false, "do not write the read index")
	resquiggleCmd.Flags().Bool("overwrite", false, "overwrite an existing corrected group")
	resquiggleCmd.Flags().StringSlice("obs-per-base-filter", nil, "percentile:threshold pairs flagging over-segmented reads in the index")
	resquiggleCmd.Flags().String("failed-reads-filename", "", "write the full per-read failure manifest here")
	resquiggleCmd.Flags().BoolP("quiet", "q", false, "suppress progress output")

	resquiggleCmd.MarkFlagRequired("reads-dir")
	resquiggleCmd.MarkFlagRequired("genome-fasta")

	// bind the parameters to viper
	viper.BindPFlags(resquiggleCmd.Flags())
}
