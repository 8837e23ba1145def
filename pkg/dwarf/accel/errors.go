package accel

import "errors"

// Sentinel errors returned by the Extractor and by table construction.
// Callers that want to branch on the failing region should compare
// against these with errors.Is rather than matching error strings.
var (
	// ErrOutOfBounds is returned by any Extractor read that would step
	// past the end of the underlying blob. The cursor is left untouched.
	ErrOutOfBounds = errors.New("out of bounds read")

	// ErrHeaderTruncated covers both accelerator formats: the section
	// is too small to even hold the fixed-size header, or (Apple) the
	// HeaderData atom list the header declares.
	ErrHeaderTruncated = errors.New("section too small: cannot read header")

	// ErrBucketsTruncated is specific to the Apple format: the section
	// does not have room for the computed buckets+hashes+offsets region.
	ErrBucketsTruncated = errors.New("section too small: cannot read buckets and hashes")

	// ErrAugmentationTruncated is specific to DWARF v5: the declared
	// augmentation_size overruns the section.
	ErrAugmentationTruncated = errors.New("section too small: cannot read header augmentation")

	// ErrAbbrevRegionTruncated is specific to DWARF v5: abbrev_table_size
	// overruns the section.
	ErrAbbrevRegionTruncated = errors.New("section too small: cannot read abbreviations")

	// ErrAbbrevTableUnterminated is returned when an abbrev or attribute
	// encoding would have to be read from at or beyond entries_base
	// without having seen the (0, 0) / code-0 sentinel first.
	ErrAbbrevTableUnterminated = errors.New("incorrectly terminated abbreviation table")

	// ErrDuplicateAbbrevCode is returned when two abbreviations in the
	// same unit declare the same code.
	ErrDuplicateAbbrevCode = errors.New("duplicate abbreviation code")

	// ErrEntryListUnterminated is returned by getEntry when the cursor
	// it is handed does not even point at a valid offset.
	ErrEntryListUnterminated = errors.New("incorrectly terminated entry list")

	// ErrInvalidAbbrevCode is returned by getEntry when an entry
	// references an abbreviation code absent from the unit's table.
	ErrInvalidAbbrevCode = errors.New("invalid abbreviation")

	// ErrFormExtract wraps a failure from the form-value decoder while
	// decoding one of an entry's attribute values.
	ErrFormExtract = errors.New("error extracting index attribute values")

	// ErrSentinel is not a real failure: GetEntry returns it to signal
	// "this was the code-0 terminator" of an entry list (the
	// abbreviation table's terminator is handled inside extraction and
	// never surfaces as an error). Dump-time callers convert it to normal end-of-iteration;
	// library callers walking entries by hand check for it with
	// errors.Is the same way they'd check any other sentinel.
	ErrSentinel = errors.New("sentinel")
)
