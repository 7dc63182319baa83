package tombo

// errKind buckets read-scoped failures for the end-of-run summary.
// Every kind is fatal to its read only, never to the batch.
type errKind int

const (
	// errStore is a failure reading or writing one read's file
	errStore errKind = iota

	// errAlignmentAbsent means the mapper produced no hit for the read
	errAlignmentAbsent

	// errParse is a malformed mapper record for one read
	errParse

	// errSegmentation covers insufficient signal, too many changepoints,
	// timeouts and entirely-stay-state reads
	errSegmentation

	// errValidation is a non-monotonic or out-of-bounds segmentation or
	// a sequence/segment-count mismatch
	errValidation
)

// readError is a typed, read-scoped failure. It carries the message
// failures are grouped by in the end-of-run summary.
type readError struct {
	kind errKind
	msg  string
}

func (e *readError) Error() string { return e.msg }

func newReadError(kind errKind, msg string) *readError {
	return &readError{kind: kind, msg: msg}
}

// failedRead is one read's failure record, accumulated centrally by
// the aggregator and never propagated across reads.
type failedRead struct {
	// message the failure is grouped by
	err string

	// identifier of the read (subgroup + read file)
	read string
}
