package tombo

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// indexEntry is one successfully resquiggled read's slot in the
// on-disk read index. Entries are produced by resegmentation workers
// and consumed only by the single index aggregator.
type indexEntry struct {
	Chrom             string
	Strand            string
	Start             int64
	End               int64
	IsFiltered        bool
	ReadStartRelToRaw int64
	CorrectedGroup    string
	Subgroup          string
	ReadFn            string
	RNA               bool
}

// indexWriter appends entries to the reads directory's index file.
// Exactly one writer exists per run; workers never touch the file.
type indexWriter struct {
	dir string
	f   *os.File
	w   *bufio.Writer
	n   int
}

func indexFileName(dir, correctedGroup string) string {
	return filepath.Join(dir, "."+correctedGroup+".tombo.index")
}

// newIndexWriter truncates and reopens the directory's index file
func newIndexWriter(dir, correctedGroup string) (*indexWriter, error) {
	f, err := os.Create(indexFileName(dir, correctedGroup))
	if err != nil {
		return nil, fmt.Errorf("failed to create index file: %w", err)
	}
	return &indexWriter{dir: dir, f: f, w: bufio.NewWriter(f)}, nil
}

// add appends one entry as a tab-separated line
func (iw *indexWriter) add(entry indexEntry) error {
	readFn, err := filepath.Rel(iw.dir, entry.ReadFn)
	if err != nil {
		readFn = entry.ReadFn
	}
	_, err = fmt.Fprintf(iw.w, "%s\t%s\t%d\t%d\t%s\t%d\t%s\t%s\t%s\t%s\n",
		entry.Chrom, entry.Strand, entry.Start, entry.End,
		strconv.FormatBool(entry.IsFiltered), entry.ReadStartRelToRaw,
		entry.CorrectedGroup, entry.Subgroup, readFn,
		strconv.FormatBool(entry.RNA))
	if err != nil {
		return err
	}
	iw.n++
	return nil
}

func (iw *indexWriter) close() error {
	if err := iw.w.Flush(); err != nil {
		iw.f.Close()
		return err
	}
	return iw.f.Close()
}
