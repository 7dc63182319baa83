package tombo

import (
	"math"
	"os"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const (
	testReadBases   = "ACGTACGTAC" + "TACGTACGTA"
	testGenomeBases = "ACGTACGTAC" + "G" + "TACGTACGTA"
)

// resquiggleFixture is a 20 base read whose basecaller boundaries fall
// every 10 samples, aligned against a reference with one extra base at
// read position 10. The raw signal carries two clean level shifts at
// samples 96 and 103, where the resegmentation should place the
// affected boundaries.
func resquiggleFixture(t *testing.T) (string, alignData) {
	t.Helper()

	raw := make([]int16, 210)
	for i := range raw {
		switch {
		case i >= 96 && i < 103:
			raw[i] = 500
		case i >= 103 && i < 110:
			raw[i] = 600
		default:
			raw[i] = int16((i / 10) * 10)
		}
	}
	readFn := writeTestRead(t, t.TempDir(), "read-1", storedRead{
		ReadID:    "read-1",
		RawSignal: raw,
		Channel:   channelInfo{SamplingRate: 4000},
		Basecalls: map[string]map[string]basecallData{},
	})

	starts := make([]int64, 21)
	for i := range starts {
		starts[i] = int64(i * 10)
	}
	return readFn, alignData{
		alignVals:         fixtureAlignVals(),
		genomeLoc:         genomeLocation{Chrom: "chr1", Strand: "+", Start: 1000},
		startsRelToRead:   starts,
		readStartRelToRaw: 0,
		info:              alignInfo{ID: "read-1", Subgroup: "BaseCalled_template"},
	}
}

func testParams() resquiggleParams {
	return resquiggleParams{
		normMode:         normIdentity,
		minObsPerBase:    3,
		runningStatWidth: 2,
		basecallGroup:    "Basecall_1D_000",
		correctedGroup:   "RawGenomeCorrected_000",
	}
}

func wantFixtureSegs() []int64 {
	segs := make([]int64, 0, 22)
	for i := 0; i < 10; i++ {
		segs = append(segs, int64(i*10))
	}
	segs = append(segs, 96, 103)
	for i := 11; i <= 20; i++ {
		segs = append(segs, int64(i*10))
	}
	return segs
}

func Test_resquiggleRead(t *testing.T) {
	store := NewDirStore()
	readFn, ad := resquiggleFixture(t)

	entry, err := resquiggleRead(store, readFn, ad, testParams(), false)
	if err != nil {
		t.Fatalf("resquiggleRead() error = %v", err)
	}

	sg := loadCorrected(t, readFn, "RawGenomeCorrected_000", "BaseCalled_template")
	if sg.Result == nil {
		t.Fatal("resquiggleRead() persisted no result")
	}
	res := sg.Result

	// one boundary per aligned reference base plus the final one
	if len(res.Segs) != len(res.GenomeSeq)+1 {
		t.Fatalf("got %d segments for %d reference bases",
			len(res.Segs), len(res.GenomeSeq))
	}
	if res.GenomeSeq != testGenomeBases {
		t.Errorf("GenomeSeq = %q, want %q", res.GenomeSeq, testGenomeBases)
	}
	if diff := cmp.Diff(wantFixtureSegs(), res.Segs); diff != "" {
		t.Errorf("Segs mismatch (-want +got):\n%s", diff)
	}
	for i := 1; i < len(res.Segs); i++ {
		if res.Segs[i] <= res.Segs[i-1] {
			t.Fatalf("segments not strictly increasing at %d: %v", i, res.Segs)
		}
	}
	if res.Segs[0] < 0 || res.Segs[len(res.Segs)-1] > int64(len(res.NormSignal)) {
		t.Errorf("segments exceed the normalized signal: %v", res.Segs)
	}

	if entry == nil {
		t.Fatal("resquiggleRead() returned no index entry")
	}
	if entry.Chrom != "chr1" || entry.Start != 1000 ||
		entry.End != 1000+int64(len(res.Segs))-1 {
		t.Errorf("index entry = %+v", entry)
	}
	if entry.IsFiltered {
		t.Error("index entry filtered with no filter rules configured")
	}
}

func Test_resquiggleRead_idempotent(t *testing.T) {
	store := NewDirStore()
	readFn, ad := resquiggleFixture(t)

	if _, err := resquiggleRead(store, readFn, ad, testParams(), false); err != nil {
		t.Fatalf("first resquiggleRead() error = %v", err)
	}
	first := loadCorrected(t, readFn, "RawGenomeCorrected_000", "BaseCalled_template")

	if _, err := resquiggleRead(store, readFn, ad, testParams(), false); err != nil {
		t.Fatalf("second resquiggleRead() error = %v", err)
	}
	second := loadCorrected(t, readFn, "RawGenomeCorrected_000", "BaseCalled_template")

	if diff := cmp.Diff(first.Result, second.Result); diff != "" {
		t.Errorf("rerunning the same read changed its result (-first +second):\n%s", diff)
	}
}

func Test_resquiggleRead_obsFilter(t *testing.T) {
	tests := []struct {
		name       string
		rule       obsFilterRule
		isFiltered bool
	}{
		// the fixture's longest base segment spans 10 samples
		{"threshold above longest segment", obsFilterRule{100, 15}, false},
		{"threshold below longest segment", obsFilterRule{100, 9}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewDirStore()
			readFn, ad := resquiggleFixture(t)
			params := testParams()
			params.obsFilter = []obsFilterRule{tt.rule}

			entry, err := resquiggleRead(store, readFn, ad, params, false)
			if err != nil {
				t.Fatalf("resquiggleRead() error = %v", err)
			}
			if entry.IsFiltered != tt.isFiltered {
				t.Errorf("IsFiltered = %v, want %v", entry.IsFiltered, tt.isFiltered)
			}
		})
	}
}

func Test_resquiggleRead_skipIndex(t *testing.T) {
	store := NewDirStore()
	readFn, ad := resquiggleFixture(t)

	entry, err := resquiggleRead(store, readFn, ad, testParams(), true)
	if err != nil {
		t.Fatalf("resquiggleRead() error = %v", err)
	}
	if entry != nil {
		t.Errorf("resquiggleRead() with skipIndex returned entry %+v", entry)
	}
	// the result is still persisted
	if sg := loadCorrected(
		t, readFn, "RawGenomeCorrected_000", "BaseCalled_template"); sg.Result == nil {
		t.Error("skipIndex must not skip persisting the result")
	}
}

func Test_resquiggleRead_segmentCountMismatch(t *testing.T) {
	store := NewDirStore()
	readFn, ad := resquiggleFixture(t)
	// an extra aligned column makes the reference one base longer than
	// the segmentation can account for
	ad.alignVals = append(ad.alignVals, alignPair{read: 'A', genome: 'A'})

	_, err := resquiggleRead(store, readFn, ad, testParams(), false)
	if err == nil {
		t.Fatal("resquiggleRead() expected segment count mismatch")
	}
	if !strings.Contains(err.Error(), "does not match number of segments") {
		t.Errorf("resquiggleRead() error = %v", err)
	}
	// failed reads persist nothing
	if _, err := os.Stat(correctedPath(readFn, "RawGenomeCorrected_000")); !os.IsNotExist(err) {
		t.Error("failed read must not persist a corrected file")
	}
}

func Test_findReadStart(t *testing.T) {
	tests := []struct {
		name          string
		steps         map[int]float64
		starts        []int64
		readStart     int64
		signalLength  int64
		wantReadStart int64
	}{
		{
			// every true level shift trails the basecaller boundary by
			// three samples
			"positive offset shifts the window right",
			map[int]float64{3: 10, 13: 20, 23: 30, 33: 40, 43: 50, 53: 60},
			[]int64{0, 10, 20, 30, 40, 50},
			100, 300,
			103,
		},
		{
			"negative offset shifts the window left",
			map[int]float64{8: 5, 18: 10, 28: 15, 38: 20, 48: 25},
			[]int64{10, 20, 30, 40, 50},
			100, 300,
			98,
		},
		{
			"positive offset clamped at the raw signal end",
			map[int]float64{3: 10, 13: 20, 23: 30, 33: 40, 43: 50, 53: 60},
			[]int64{0, 10, 20, 30, 40, 50},
			100, 161,
			101,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := stepSignal(60, tt.steps)

			shifted, readStart, err := findReadStart(sig, tt.starts, 3, 3, tt.readStart, tt.signalLength)
			if err != nil {
				t.Fatalf("findReadStart() error = %v", err)
			}
			if readStart != tt.wantReadStart {
				t.Errorf("readStart = %d, want %d", readStart, tt.wantReadStart)
			}
			if len(shifted) != len(sig) {
				t.Errorf("shifted window length = %d, want %d", len(shifted), len(sig))
			}
		})
	}
}

func Test_findReadStart_shiftedSamples(t *testing.T) {
	sig := stepSignal(60, map[int]float64{3: 10, 13: 20, 23: 30, 33: 40, 43: 50, 53: 60})
	starts := []int64{0, 10, 20, 30, 40, 50}

	shifted, _, err := findReadStart(sig, starts, 3, 3, 100, 300)
	if err != nil {
		t.Fatalf("findReadStart() error = %v", err)
	}
	// window moved right by 3: first sample is the old sig[3] and the
	// tail replicates the final sample
	if shifted[0] != sig[3] {
		t.Errorf("shifted[0] = %v, want %v", shifted[0], sig[3])
	}
	for i := 57; i < 60; i++ {
		if shifted[i] != sig[59] {
			t.Errorf("shifted[%d] = %v, want replicated edge %v", i, shifted[i], sig[59])
		}
	}
}

func Test_parseObsFilter(t *testing.T) {
	tests := []struct {
		name    string
		rules   []string
		want    []obsFilterRule
		wantErr bool
	}{
		{"empty", nil, []obsFilterRule{}, false},
		{
			"two rules",
			[]string{"99:200", "100:5000"},
			[]obsFilterRule{{99, 200}, {100, 5000}},
			false,
		},
		{"missing threshold", []string{"99"}, nil, true},
		{"percentile out of range", []string{"101:10"}, nil, true},
		{"unparseable threshold", []string{"99:x"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseObsFilter(tt.rules)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseObsFilter() error = %v, wantErr %v", err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, got,
				cmp.AllowUnexported(obsFilterRule{})); diff != "" {
				t.Errorf("parseObsFilter() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func Test_segParamsFor(t *testing.T) {
	tests := []struct {
		name          string
		params        resquiggleParams
		rna           bool
		wantMinObs    int
		wantStatWidth int
	}{
		{"dna defaults", resquiggleParams{}, false, 3, 5},
		{"rna defaults", resquiggleParams{}, true, 6, 12},
		{
			"explicit values win",
			resquiggleParams{minObsPerBase: 4, runningStatWidth: 7},
			true, 4, 7,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			minObs, statWidth := tt.params.segParamsFor(tt.rna)
			if minObs != tt.wantMinObs || statWidth != tt.wantStatWidth {
				t.Errorf("segParamsFor(%v) = %d, %d, want %d, %d",
					tt.rna, minObs, statWidth, tt.wantMinObs, tt.wantStatWidth)
			}
		})
	}
}

func Test_percentile(t *testing.T) {
	tests := []struct {
		name string
		vals []float64
		pctl float64
		want float64
	}{
		{"median interpolates", []float64{1, 2, 3, 4}, 50, 2.5},
		{"maximum", []float64{4, 1, 3, 2}, 100, 4},
		{"minimum", []float64{4, 1, 3, 2}, 0, 1},
		{"single value", []float64{7}, 30, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := percentile(tt.vals, tt.pctl); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("percentile(%v, %v) = %v, want %v", tt.vals, tt.pctl, got, tt.want)
			}
		})
	}
}
