// Package config is for app wide settings that are unmarshalled
// from Viper (see: /cmd)
package config

import (
	"runtime"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// MapperConfig is settings for the external genome mapper
type MapperConfig struct {
	// path to the minimap2 executable
	Minimap2 string `mapstructure:"minimap2"`

	// path to a prebuilt minimap2 index to map against instead of the FASTA
	Minimap2Index string `mapstructure:"minimap2-index"`

	// path to the bwa-mem executable
	BWAMem string `mapstructure:"bwa-mem"`

	// path to the graphmap executable
	Graphmap string `mapstructure:"graphmap"`
}

// SegConfig is settings for re-segmentation of the raw signal
type SegConfig struct {
	// the minimum number of raw observations per base. zero means
	// use the per-molecule (DNA vs RNA) default
	MinObsPerBase int `mapstructure:"min-obs-per-base"`

	// width of the running-mean windows compared on either side of
	// a candidate changepoint. zero means use the per-molecule default
	RunningStatWidth int `mapstructure:"running-stat-width"`

	// the maximum number of changepoints for a single indel group
	// before the read fails. zero means no cap
	CptsLimit int `mapstructure:"cpts-limit"`

	// per-read wall-clock timeout (seconds) for indel processing.
	// zero means no timeout
	TimeoutSeconds float64 `mapstructure:"timeout"`
}

// NormConfig is settings for raw signal normalization
type NormConfig struct {
	// one of "identity", "median" or "pA" (pore-model fitted)
	Mode string `mapstructure:"normalization-type"`

	// normalized values beyond this many scale units are clamped.
	// zero or negative disables outlier trimming
	OutlierThreshold float64 `mapstructure:"outlier-threshold"`

	// path to a tab-separated pore model file, required for "pA" mode
	PoreModel string `mapstructure:"pore-model-filename"`
}

// FilterConfig is settings for flagging reads in the index without
// removing them
type FilterConfig struct {
	// "percentile:threshold" pairs; a read is flagged when the given
	// percentile of its per-base segment lengths exceeds the threshold
	ObsPerBase []string `mapstructure:"obs-per-base-filter"`
}

// Config is the root-level settings struct and is a mix
// of settings available in settings.yaml and those
// available from the command line
type Config struct {
	// directory holding the raw reads
	ReadsDir string `mapstructure:"reads-dir"`

	// path to the reference genome FASTA
	GenomeFasta string `mapstructure:"genome-fasta"`

	// basecall group and subgroups to process within each read
	BasecallGroup     string   `mapstructure:"basecall-group"`
	BasecallSubgroups []string `mapstructure:"basecall-subgroups"`

	// name of the corrected group results are written under
	CorrectedGroup string `mapstructure:"corrected-group"`

	// total number of worker goroutines to split between the
	// alignment and resegmentation pools
	Processes int `mapstructure:"processes"`

	// alignment pool size; zero means half of Processes
	AlignProcesses int `mapstructure:"align-processes"`

	// threads handed to each external mapper invocation
	AlignThreadsPerProcess int `mapstructure:"align-threads-per-process"`

	// resegmentation pool size; zero means half of Processes
	ResquiggleProcesses int `mapstructure:"resquiggle-processes"`

	// number of reads submitted to the mapper per invocation
	AlignmentBatchSize int `mapstructure:"alignment-batch-size"`

	// skip writing the read index after processing
	SkipIndex bool `mapstructure:"skip-index"`

	// overwrite an existing corrected group
	Overwrite bool `mapstructure:"overwrite"`

	// optional path for the full per-read failure manifest
	FailedReadsFilename string `mapstructure:"failed-reads-filename"`

	// suppress progress output
	Quiet bool `mapstructure:"quiet"`

	Mapper MapperConfig `mapstructure:",squash"`
	Norm   NormConfig   `mapstructure:",squash"`
	Seg    SegConfig    `mapstructure:",squash"`
	Filter FilterConfig `mapstructure:",squash"`
}

// New returns a new Config struct populated by Viper settings
// (either from a local settings.yaml) and/or command line arguments
func New() Config {
	var c Config

	if err := viper.Unmarshal(&c); err != nil {
		log.Fatalf("unable to decode settings into config: %v", err)
	}

	if c.Processes < 2 {
		c.Processes = 2
	}
	if c.AlignProcesses < 1 {
		c.AlignProcesses = max(c.Processes/2, 1)
	}
	if c.ResquiggleProcesses < 1 {
		c.ResquiggleProcesses = max(c.Processes/2, 1)
	}
	if c.AlignThreadsPerProcess < 1 {
		c.AlignThreadsPerProcess = max(runtime.NumCPU()/(2*c.AlignProcesses), 1)
	}
	if c.AlignmentBatchSize < 1 {
		c.AlignmentBatchSize = 500
	}

	return c
}
