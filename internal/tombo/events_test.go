package tombo

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func Test_callerParamsFor(t *testing.T) {
	type args struct {
		version string
		rna     bool
	}
	tests := []struct {
		name string
		args args
		want callerParams
	}{
		{
			"pre 1.0 uses scaled start times",
			args{"0.5.1", false},
			callerParams{callerFormatLegacy, 2, false},
		},
		{
			"1.x accumulates event lengths and corrects the read start",
			args{"1.2.3", false},
			callerParams{callerFormatTransitional, 1, true},
		},
		{
			"2.0 dna uses exact starts",
			args{"2.0", false},
			callerParams{callerFormatModern, 1, false},
		},
		{
			"2.0 rna keeps the older dominant k-mer position",
			args{"2.0", true},
			callerParams{callerFormatModern, 2, false},
		},
		{
			"2.1 rna moves to the new dominant position",
			args{"2.1", true},
			callerParams{callerFormatModern, 1, false},
		},
		{
			"unparseable version treated as legacy",
			args{"unknown", false},
			callerParams{callerFormatLegacy, 2, false},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := callerParamsFor(tt.args.version, tt.args.rna)
			if got != tt.want {
				t.Errorf("callerParamsFor() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func Test_fixStayStates(t *testing.T) {
	type args struct {
		moves     []int
		starts    []int64
		basecalls string
		readStart int64
		rna       bool
	}
	type res struct {
		starts    []int64
		basecalls string
		readStart int64
	}
	tests := []struct {
		name    string
		args    args
		want    res
		wantErr bool
	}{
		{
			// stay, move, stay, stay, move, stay: after trimming the edge
			// stays and collapsing internal ones, exactly two segments
			// remain
			"edge stays trimmed and internal stays collapsed",
			args{
				moves:     []int{0, 1, 0, 0, 1, 0},
				starts:    []int64{0, 5, 10, 15, 20, 25, 30},
				basecalls: "ABCDEF",
				readStart: 100,
			},
			res{[]int64{0, 15, 20}, "BE", 105},
			false,
		},
		{
			"no stays is a no-op",
			args{
				moves:     []int{1, 1, 1},
				starts:    []int64{0, 3, 6, 9},
				basecalls: "ACG",
				readStart: 7,
			},
			res{[]int64{0, 3, 6, 9}, "ACG", 7},
			false,
		},
		{
			"internal stay joins the preceding segment",
			args{
				moves:     []int{1, 0, 1},
				starts:    []int64{0, 3, 6, 9},
				basecalls: "ACG",
				readStart: 7,
			},
			res{[]int64{0, 6, 9}, "AG", 7},
			false,
		},
		{
			// for rna the move flags arrive in the basecaller's
			// orientation while boundaries were already mirrored
			"rna reverses move flags before trimming",
			args{
				moves:     []int{0, 1, 1},
				starts:    []int64{0, 4, 8, 12},
				basecalls: "XYZ",
				readStart: 50,
				rna:       true,
			},
			res{[]int64{0, 4, 8}, "XY", 50},
			false,
		},
		{
			"all stay read cannot be processed",
			args{
				moves:     []int{0, 0, 0},
				starts:    []int64{0, 3, 6, 9},
				basecalls: "ACG",
				readStart: 0,
			},
			res{},
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			starts, basecalls, readStart, err := fixStayStates(
				tt.args.moves, tt.args.starts, []byte(tt.args.basecalls),
				tt.args.readStart, tt.args.rna)
			if (err != nil) != tt.wantErr {
				t.Fatalf("fixStayStates() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if diff := cmp.Diff(tt.want.starts, starts); diff != "" {
				t.Errorf("fixStayStates() starts mismatch (-want +got):\n%s", diff)
			}
			if string(basecalls) != tt.want.basecalls {
				t.Errorf("fixStayStates() basecalls = %q, want %q",
					basecalls, tt.want.basecalls)
			}
			if readStart != tt.want.readStart {
				t.Errorf("fixStayStates() readStart = %d, want %d",
					readStart, tt.want.readStart)
			}
		})
	}
}

func Test_getReadData_modern(t *testing.T) {
	dir := t.TempDir()
	events := make([]event, 5)
	states := []string{"AACG", "ACGT", "CGTA", "GTAC", "TACG"}
	for i := range events {
		events[i] = event{
			Start:      float64(100 + i*5),
			Length:     5,
			ModelState: states[i],
			Move:       1,
		}
	}
	readFn := writeTestRead(t, dir, "read-1", storedRead{
		ReadID:    "read-1",
		RawSignal: make([]int16, 200),
		Channel:   channelInfo{SamplingRate: 4000},
		Basecalls: map[string]map[string]basecallData{
			"Basecall_1D_000": {
				"BaseCalled_template": {Version: "2.2", Events: events},
			},
		},
	})

	rd, err := getReadData(
		NewDirStore(), readFn, "Basecall_1D_000", "BaseCalled_template")
	if err != nil {
		t.Fatalf("getReadData() error = %v", err)
	}
	if rd.readStartRelToRaw != 100 {
		t.Errorf("readStartRelToRaw = %d, want 100", rd.readStartRelToRaw)
	}
	wantStarts := []int64{0, 5, 10, 15, 20, 25}
	if diff := cmp.Diff(wantStarts, rd.startsRelToRead); diff != "" {
		t.Errorf("startsRelToRead mismatch (-want +got):\n%s", diff)
	}
	// modern callers report the called base at k-mer position 1
	if string(rd.basecalls) != "ACGTA" {
		t.Errorf("basecalls = %q, want %q", rd.basecalls, "ACGTA")
	}
	if rd.fixReadStart {
		t.Error("modern caller must not request read start correction")
	}
}

func Test_getReadData_transitional(t *testing.T) {
	dir := t.TempDir()
	// 4000 samples/s: each 0.0025 s event spans 10 samples, and the
	// 0.05 s start lands at sample 200
	events := make([]event, 3)
	for i := range events {
		events[i] = event{
			Start:      0.05 + float64(i)*0.0025,
			Length:     0.0025,
			ModelState: "ACGT",
			Move:       1,
		}
	}
	readFn := writeTestRead(t, dir, "read-1", storedRead{
		ReadID:    "read-1",
		RawSignal: make([]int16, 400),
		StartTime: 40,
		Channel:   channelInfo{SamplingRate: 4000},
		Basecalls: map[string]map[string]basecallData{
			"Basecall_1D_000": {
				"BaseCalled_template": {Version: "1.1", Events: events},
			},
		},
	})

	rd, err := getReadData(
		NewDirStore(), readFn, "Basecall_1D_000", "BaseCalled_template")
	if err != nil {
		t.Fatalf("getReadData() error = %v", err)
	}
	if rd.readStartRelToRaw != 160 {
		t.Errorf("readStartRelToRaw = %d, want 160", rd.readStartRelToRaw)
	}
	wantStarts := []int64{0, 10, 20, 30}
	if diff := cmp.Diff(wantStarts, rd.startsRelToRead); diff != "" {
		t.Errorf("startsRelToRead mismatch (-want +got):\n%s", diff)
	}
	if !rd.fixReadStart {
		t.Error("1.x caller must request read start correction")
	}
}

func Test_getReadData_rnaMirrorsBoundaries(t *testing.T) {
	dir := t.TempDir()
	// events occupy raw samples [100, 130); after mirroring onto the
	// reversed signal they occupy [170, 200) of a 300 sample read
	events := []event{
		{Start: 100, Length: 10, ModelState: "AACGT", Move: 1},
		{Start: 110, Length: 10, ModelState: "ACGTA", Move: 1},
		{Start: 120, Length: 10, ModelState: "AGTAC", Move: 1},
	}
	readFn := writeTestRead(t, dir, "read-1", storedRead{
		ReadID:    "read-1",
		RawSignal: make([]int16, 300),
		RNA:       true,
		Channel:   channelInfo{SamplingRate: 3000},
		Basecalls: map[string]map[string]basecallData{
			"Basecall_1D_000": {
				"BaseCalled_template": {Version: "2.0", Events: events},
			},
		},
	})

	rd, err := getReadData(
		NewDirStore(), readFn, "Basecall_1D_000", "BaseCalled_template")
	if err != nil {
		t.Fatalf("getReadData() error = %v", err)
	}
	if rd.readStartRelToRaw != 170 {
		t.Errorf("readStartRelToRaw = %d, want 170", rd.readStartRelToRaw)
	}
	wantStarts := []int64{0, 10, 20, 30}
	if diff := cmp.Diff(wantStarts, rd.startsRelToRead); diff != "" {
		t.Errorf("startsRelToRead mismatch (-want +got):\n%s", diff)
	}
	// rna on a 2.0 caller reads the dominant base from position 2, and
	// basecalls come out reversed
	if string(rd.basecalls) != "TGC" {
		t.Errorf("basecalls = %q, want %q", rd.basecalls, "TGC")
	}
}

func Test_getReadData_zeroLengthEvent(t *testing.T) {
	dir := t.TempDir()
	events := []event{
		{Start: 100, Length: 5, ModelState: "ACGT", Move: 1},
		{Start: 105, Length: 0, ModelState: "CGTA", Move: 1},
		{Start: 105, Length: 5, ModelState: "GTAC", Move: 1},
	}
	readFn := writeTestRead(t, dir, "read-1", storedRead{
		ReadID:    "read-1",
		RawSignal: make([]int16, 200),
		Channel:   channelInfo{SamplingRate: 4000},
		Basecalls: map[string]map[string]basecallData{
			"Basecall_1D_000": {
				"BaseCalled_template": {Version: "2.2", Events: events},
			},
		},
	})

	_, err := getReadData(
		NewDirStore(), readFn, "Basecall_1D_000", "BaseCalled_template")
	if err == nil {
		t.Fatal("getReadData() expected zero length event error")
	}
	if !strings.Contains(err.Error(), "Zero length event") {
		t.Errorf("getReadData() error = %v, want zero length event failure", err)
	}
}
