package tombo

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// writeTestRead persists a read fixture as one JSON file and returns
// its path
func writeTestRead(t *testing.T, dir, name string, r storedRead) string {
	t.Helper()
	b, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name+".json")
	if err := os.WriteFile(path, b, 0666); err != nil {
		t.Fatal(err)
	}
	return path
}

// loadCorrected reads back one subgroup's slot from a corrected-group
// file written beside the read
func loadCorrected(t *testing.T, readFn, correctedGroup, subgroup string) *correctedSubgroup {
	t.Helper()
	b, err := os.ReadFile(correctedPath(readFn, correctedGroup))
	if err != nil {
		t.Fatal(err)
	}
	var cf correctedFile
	if err := json.Unmarshal(b, &cf); err != nil {
		t.Fatal(err)
	}
	sg, ok := cf.Subgroups[subgroup]
	if !ok {
		t.Fatalf("no subgroup %s in corrected file for %s", subgroup, readFn)
	}
	return sg
}

func simpleRead() storedRead {
	return storedRead{
		ReadID:    "read-1",
		RawSignal: []int16{1, 2, 3, 4, 5},
		StartTime: 0,
		Channel:   channelInfo{SamplingRate: 4000},
		Basecalls: map[string]map[string]basecallData{
			"Basecall_1D_000": {
				"BaseCalled_template": {
					Version: "2.2",
					Events: []event{
						{Start: 0, Length: 2, ModelState: "AACG", Move: 1},
						{Start: 2, Length: 3, ModelState: "ACGT", Move: 1},
					},
				},
			},
		},
	}
}

func Test_correctedPath(t *testing.T) {
	got := correctedPath("/reads/read-1.json", "RawGenomeCorrected_000")
	want := "/reads/read-1.RawGenomeCorrected_000.json"
	if got != want {
		t.Errorf("correctedPath() = %q, want %q", got, want)
	}
}

func Test_dirStore_Prep(t *testing.T) {
	dir := t.TempDir()
	store := NewDirStore()
	readFn := writeTestRead(t, dir, "read-1", simpleRead())

	if err := store.Prep(readFn, "RawGenomeCorrected_000", false); err != nil {
		t.Fatalf("Prep() on fresh read error = %v", err)
	}
	if err := store.WriteErrorStatus(
		readFn, "RawGenomeCorrected_000", "BaseCalled_template", "failed"); err != nil {
		t.Fatal(err)
	}

	// a previous run's output blocks a re-run unless overwrite is set
	if err := store.Prep(readFn, "RawGenomeCorrected_000", false); err == nil {
		t.Error("Prep() without overwrite expected error over existing output")
	}
	if err := store.Prep(readFn, "RawGenomeCorrected_000", true); err != nil {
		t.Errorf("Prep() with overwrite error = %v", err)
	}
	if _, err := os.Stat(correctedPath(readFn, "RawGenomeCorrected_000")); !os.IsNotExist(err) {
		t.Error("Prep() with overwrite should remove the previous corrected file")
	}
}

func Test_dirStore_Events(t *testing.T) {
	dir := t.TempDir()
	store := NewDirStore()
	readFn := writeTestRead(t, dir, "read-1", simpleRead())

	events, version, startTime, err := store.Events(
		readFn, "Basecall_1D_000", "BaseCalled_template")
	if err != nil {
		t.Fatalf("Events() error = %v", err)
	}
	if version != "2.2" || startTime != 0 || len(events) != 2 {
		t.Errorf("Events() = %d events, version %q, start %d",
			len(events), version, startTime)
	}

	if _, _, _, err := store.Events(
		readFn, "Basecall_1D_000", "BaseCalled_complement"); err == nil {
		t.Error("Events() expected error for a missing subgroup")
	}
	_, _, _, err = store.Events(readFn, "Basecall_1D_001", "BaseCalled_template")
	if err == nil {
		t.Fatal("Events() expected error for a missing basecall group")
	}
	if !strings.Contains(err.Error(), "mis-specified basecall group") {
		t.Errorf("Events() missing-group error = %v", err)
	}
}

func Test_dirStore_WriteResult(t *testing.T) {
	dir := t.TempDir()
	store := NewDirStore()
	readFn := writeTestRead(t, dir, "read-1", simpleRead())

	res := &resquiggleResult{
		GenomeLoc:         genomeLocation{Chrom: "chr1", Strand: "+", Start: 100},
		GenomeSeq:         "ACGT",
		NormSignal:        []float64{0, 1, 2},
		ReadStartRelToRaw: 5,
		Segs:              []int64{0, 1, 2, 3},
	}
	if err := store.WriteResult(
		readFn, "RawGenomeCorrected_000", "BaseCalled_template", res); err != nil {
		t.Fatalf("WriteResult() error = %v", err)
	}
	// a second subgroup must not clobber the first
	if err := store.WriteErrorStatus(
		readFn, "RawGenomeCorrected_000", "BaseCalled_complement", "no alignment"); err != nil {
		t.Fatal(err)
	}

	got := loadCorrected(t, readFn, "RawGenomeCorrected_000", "BaseCalled_template")
	if got.Result == nil {
		t.Fatal("corrected file lost the result slot")
	}
	if diff := cmp.Diff(res, got.Result); diff != "" {
		t.Errorf("round-tripped result mismatch (-want +got):\n%s", diff)
	}
	if sg := loadCorrected(
		t, readFn, "RawGenomeCorrected_000", "BaseCalled_complement"); sg.Status != "no alignment" {
		t.Errorf("error status = %q, want %q", sg.Status, "no alignment")
	}
}

func Test_listReadFiles(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "batch0")
	if err := os.Mkdir(sub, 0777); err != nil {
		t.Fatal(err)
	}
	a := writeTestRead(t, dir, "a", simpleRead())
	b := writeTestRead(t, sub, "b", simpleRead())
	// corrected output and unrelated files must be skipped
	if err := os.WriteFile(
		filepath.Join(dir, "a.RawGenomeCorrected_000.json"), []byte("{}"), 0666); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0666); err != nil {
		t.Fatal(err)
	}

	got, err := listReadFiles(dir, "RawGenomeCorrected_000")
	if err != nil {
		t.Fatalf("listReadFiles() error = %v", err)
	}
	want := []string{a, b}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("listReadFiles() mismatch (-want +got):\n%s", diff)
	}
}
