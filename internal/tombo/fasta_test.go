package tombo

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTestFasta(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "genome.fa")
	if err := os.WriteFile(path, []byte(content), 0666); err != nil {
		t.Fatal(err)
	}
	return path
}

func Test_newFastaIndex(t *testing.T) {
	path := writeTestFasta(t,
		">chr1 some description\nacgtACGT\nTTTT\n\n>chr2\nGGCC\n")

	fi, err := newFastaIndex(path)
	if err != nil {
		t.Fatalf("newFastaIndex() error = %v", err)
	}

	type args struct {
		chrom      string
		start, end int
	}
	tests := []struct {
		name    string
		args    args
		want    string
		wantErr bool
	}{
		{"multi-line record uppercased", args{"chr1", 0, 12}, "ACGTACGTTTTT", false},
		{"subsequence", args{"chr1", 2, 6}, "GTAC", false},
		{"second record", args{"chr2", 0, 4}, "GGCC", false},
		{"empty range", args{"chr2", 2, 2}, "", false},
		{"unknown chromosome", args{"chrX", 0, 1}, "", true},
		{"range past end", args{"chr2", 0, 5}, "", true},
		{"negative start", args{"chr2", -1, 2}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fi.seq(tt.args.chrom, tt.args.start, tt.args.end)
			if (err != nil) != tt.wantErr {
				t.Fatalf("seq() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("seq() = %q, want %q", got, tt.want)
			}
		})
	}
}

func Test_revComp(t *testing.T) {
	tests := []struct {
		seq  string
		want string
	}{
		{"ACGT", "ACGT"},
		{"AACG", "CGTT"},
		{"acgt", "acgt"},
		{"A-CG", "CG-T"},
		{"ANNT", "ANNT"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := revComp(tt.seq); got != tt.want {
			t.Errorf("revComp(%q) = %q, want %q", tt.seq, got, tt.want)
		}
	}
}
