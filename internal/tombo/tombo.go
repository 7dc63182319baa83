// Package tombo re-aligns raw sequencer signal to a reference genome:
// it replaces basecaller event boundaries with exact, reference
// consistent raw-signal segment boundaries ("resquiggling").
package tombo

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/saroudant/tombo/config"
)

// Resquiggle is the root of the `tombo resquiggle` functionality: it
// streams every read in the reads directory through alignment and
// resegmentation and writes the corrected results and read index.
func Resquiggle(cmd *cobra.Command, args []string) {
	conf := config.New()

	if err := execResquiggle(conf); err != nil {
		log.Fatalf("%v", err)
	}
}

// execResquiggle validates the batch-fatal preconditions, builds the
// collaborators and runs the pipeline. Per-read failures are summarized
// at the end; only missing inputs abort the run.
func execResquiggle(conf config.Config) error {
	mapper, err := resolveMapper(conf)
	if err != nil {
		return err
	}

	if conf.GenomeFasta == "" {
		return fmt.Errorf("a reference genome FASTA is required")
	}
	if info, err := os.Stat(conf.ReadsDir); err != nil || !info.IsDir() {
		return fmt.Errorf("provided reads directory is not a directory")
	}
	readFns, err := listReadFiles(conf.ReadsDir, conf.CorrectedGroup)
	if err != nil {
		return fmt.Errorf(
			"reads directory or a sub-directory does not appear to be accessible: %w", err)
	}
	if len(readFns) == 0 {
		return fmt.Errorf(
			"no read files identified in the specified directory or within immediate subdirectories")
	}

	genomeIndex, err := newFastaIndex(conf.GenomeFasta)
	if err != nil {
		return err
	}

	var model *poreModel
	if conf.Norm.Mode == normPA {
		if model, err = loadPoreModel(conf.Norm.PoreModel); err != nil {
			return err
		}
	}
	obsFilter, err := parseObsFilter(conf.Filter.ObsPerBase)
	if err != nil {
		return err
	}

	params := resquiggleParams{
		normMode:         conf.Norm.Mode,
		outlierThresh:    conf.Norm.OutlierThreshold,
		minObsPerBase:    conf.Seg.MinObsPerBase,
		runningStatWidth: conf.Seg.RunningStatWidth,
		timeout:          time.Duration(conf.Seg.TimeoutSeconds * float64(time.Second)),
		cptsLimit:        conf.Seg.CptsLimit,
		obsFilter:        obsFilter,
		poreModel:        model,
		basecallGroup:    conf.BasecallGroup,
		correctedGroup:   conf.CorrectedGroup,
	}

	store := NewDirStore()
	al := newGenomeAligner(conf.GenomeFasta, mapper, genomeIndex, conf.AlignThreadsPerProcess)

	if !conf.Quiet {
		log.Infof("correcting %d read files with %d subgroup(s) each",
			len(readFns), len(conf.BasecallSubgroups))
	}

	res, err := resquiggleAllReads(readFns, store, al, conf, params)
	if err != nil {
		return err
	}

	reportFailures(res, conf)
	return nil
}

// resolveMapper picks the configured mapper executable; having none is
// batch fatal
func resolveMapper(conf config.Config) (mapperData, error) {
	switch {
	case conf.Mapper.Minimap2 != "":
		return mapperData{exe: conf.Mapper.Minimap2, kind: mapperMinimap2,
			index: conf.Mapper.Minimap2Index}, nil
	case conf.Mapper.BWAMem != "":
		return mapperData{exe: conf.Mapper.BWAMem, kind: mapperBWAMem}, nil
	case conf.Mapper.Graphmap != "":
		return mapperData{exe: conf.Mapper.Graphmap, kind: mapperGraphmap}, nil
	}
	return mapperData{}, fmt.Errorf(
		"must provide either a minimap2, graphmap or bwa-mem executable")
}

// reportFailures prints the per-kind failure summary and optionally
// writes the full failure manifest
func reportFailures(res *pipelineResult, conf config.Config) {
	if len(res.failedReads) == 0 {
		log.Info("all reads successfully re-squiggled!")
		return
	}

	msgs := make([]string, 0, len(res.failedReads))
	total := 0
	for msg, reads := range res.failedReads {
		msgs = append(msgs, msg)
		total += len(reads)
	}
	sort.Strings(msgs)

	log.Infof("failed reads summary (%d total failed):", total)
	for _, msg := range msgs {
		log.Infof("\t%s :\t%d", msg, len(res.failedReads[msg]))
	}

	if conf.FailedReadsFilename != "" {
		var sb strings.Builder
		for _, msg := range msgs {
			sb.WriteString(msg + "\t" +
				strings.Join(res.failedReads[msg], ", ") + "\n")
		}
		if err := os.WriteFile(conf.FailedReadsFilename, []byte(sb.String()), 0666); err != nil {
			log.Errorf("failed to write failure manifest: %v", err)
		}
	}
}
