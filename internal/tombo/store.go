package tombo

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// channelInfo is the sequencer channel calibration for one read
type channelInfo struct {
	Offset       float64 `json:"offset"`
	Range        float64 `json:"range"`
	Digitisation float64 `json:"digitisation"`
	SamplingRate float64 `json:"sampling_rate"`
}

// event is one basecaller-reported interval of raw signal
type event struct {
	Start      float64 `json:"start"`
	Length     float64 `json:"length"`
	Mean       float64 `json:"mean"`
	ModelState string  `json:"model_state"`
	Move       int     `json:"move"`
}

// basecallData is one subgroup's events plus the software version that
// produced them
type basecallData struct {
	Version string  `json:"version"`
	Events  []event `json:"events"`
}

// storedRead is the on-disk representation of one read in the
// directory-backed store. Basecalls are keyed by basecall group, then
// by subgroup within it, so one read can carry several basecall runs.
type storedRead struct {
	ReadID    string                             `json:"read_id"`
	RawSignal []int16                            `json:"raw_signal"`
	StartTime int64                              `json:"start_time"`
	RNA       bool                               `json:"rna"`
	Channel   channelInfo                        `json:"channel"`
	Basecalls map[string]map[string]basecallData `json:"basecalls"`
}

// resquiggleResult is the persistable outcome of one successful
// resquiggle: the normalized signal and its exact per-base segmentation
type resquiggleResult struct {
	AlignInfo         alignInfo      `json:"align_info"`
	GenomeLoc         genomeLocation `json:"genome_loc"`
	GenomeSeq         string         `json:"genome_seq"`
	NormSignal        []float64      `json:"norm_signal"`
	ReadStartRelToRaw int64          `json:"read_start_rel_to_raw"`
	Segs              []int64        `json:"segs"`
	Scale             scaleValues    `json:"scale_values"`
}

// ReadStore is the persistence collaborator for raw reads. It must
// tolerate calls from many independent workers against distinct reads;
// a read is owned by exactly one worker at a time so no per-read
// locking is required.
type ReadStore interface {
	// Prep verifies a read can accept results under correctedGroup,
	// clearing a previous run's output when overwrite is set
	Prep(readFn, correctedGroup string, overwrite bool) error

	RawSignal(readFn string) ([]int16, error)
	ChannelInfo(readFn string) (channelInfo, error)
	IsRNA(readFn string) (bool, error)

	// Events returns one basecall group/subgroup's events along with
	// the basecaller version and the read's raw start time
	Events(readFn, group, subgroup string) (events []event, version string, startTime int64, err error)

	WriteResult(readFn, correctedGroup, subgroup string, res *resquiggleResult) error
	WriteErrorStatus(readFn, correctedGroup, subgroup, message string) error
}

// correctedSubgroup is one subgroup's slot in a corrected-group file:
// either a successful result or a status message for a failed read
type correctedSubgroup struct {
	Status string            `json:"status,omitempty"`
	Result *resquiggleResult `json:"result,omitempty"`
}

type correctedFile struct {
	Subgroups map[string]*correctedSubgroup `json:"subgroups"`
}

// dirStore keeps each read as one JSON file in a directory and writes
// corrected output beside it. Every method opens and closes the
// backing file within the call; no handle survives across queue
// operations.
type dirStore struct{}

// NewDirStore returns a ReadStore over per-read JSON files
func NewDirStore() ReadStore { return &dirStore{} }

func (s *dirStore) load(readFn string) (*storedRead, error) {
	b, err := os.ReadFile(readFn)
	if err != nil {
		return nil, fmt.Errorf("failed to open read file %s: %w", readFn, err)
	}
	var r storedRead
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("corrupt read file %s: %w", readFn, err)
	}
	return &r, nil
}

func correctedPath(readFn, correctedGroup string) string {
	ext := filepath.Ext(readFn)
	return strings.TrimSuffix(readFn, ext) + "." + correctedGroup + ext
}

func (s *dirStore) Prep(readFn, correctedGroup string, overwrite bool) error {
	corrFn := correctedPath(readFn, correctedGroup)
	if _, err := os.Stat(corrFn); err == nil {
		if !overwrite {
			return fmt.Errorf(
				"Corrected group %s already exists (use overwrite to replace)", correctedGroup)
		}
		if err := os.Remove(corrFn); err != nil {
			return fmt.Errorf("failed to clear previous corrected group: %w", err)
		}
	}
	// confirm the read itself parses
	_, err := s.load(readFn)
	return err
}

func (s *dirStore) RawSignal(readFn string) ([]int16, error) {
	r, err := s.load(readFn)
	if err != nil {
		return nil, err
	}
	return r.RawSignal, nil
}

func (s *dirStore) ChannelInfo(readFn string) (channelInfo, error) {
	r, err := s.load(readFn)
	if err != nil {
		return channelInfo{}, err
	}
	return r.Channel, nil
}

func (s *dirStore) IsRNA(readFn string) (bool, error) {
	r, err := s.load(readFn)
	if err != nil {
		return false, err
	}
	return r.RNA, nil
}

func (s *dirStore) Events(readFn, group, subgroup string) ([]event, string, int64, error) {
	r, err := s.load(readFn)
	if err != nil {
		return nil, "", 0, err
	}
	subgroups, ok := r.Basecalls[group]
	if !ok {
		return nil, "", 0, fmt.Errorf(
			"No basecalls in file. Likely a mis-specified basecall group %s", group)
	}
	bc, ok := subgroups[subgroup]
	if !ok {
		return nil, "", 0, fmt.Errorf(
			"No events or corrupted events in file. Likely a segmentation error "+
				"or mis-specified basecall subgroup %s", subgroup)
	}
	return bc.Events, bc.Version, r.StartTime, nil
}

func (s *dirStore) WriteResult(readFn, correctedGroup, subgroup string, res *resquiggleResult) error {
	return s.updateCorrected(readFn, correctedGroup, subgroup,
		&correctedSubgroup{Result: res})
}

func (s *dirStore) WriteErrorStatus(readFn, correctedGroup, subgroup, message string) error {
	return s.updateCorrected(readFn, correctedGroup, subgroup,
		&correctedSubgroup{Status: message})
}

func (s *dirStore) updateCorrected(readFn, correctedGroup, subgroup string, sg *correctedSubgroup) error {
	corrFn := correctedPath(readFn, correctedGroup)

	cf := correctedFile{Subgroups: map[string]*correctedSubgroup{}}
	if b, err := os.ReadFile(corrFn); err == nil {
		if err := json.Unmarshal(b, &cf); err != nil {
			return fmt.Errorf("corrupt corrected group file %s: %w", corrFn, err)
		}
	}
	cf.Subgroups[subgroup] = sg

	b, err := json.Marshal(cf)
	if err != nil {
		return err
	}
	if err := os.WriteFile(corrFn, b, 0666); err != nil {
		return fmt.Errorf("failed to write corrected group file %s: %w", corrFn, err)
	}
	return nil
}

// listReadFiles walks a reads directory (and its immediate
// subdirectories) for read files, skipping corrected-group output
func listReadFiles(dir, correctedGroup string) ([]string, error) {
	var files []string
	corrSuffix := "." + correctedGroup + ".json"
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, corrSuffix) || !strings.HasSuffix(path, ".json") {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
