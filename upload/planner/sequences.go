package planner

import "fmt"

// Class is the priority class of a sequence. Classes are planned in declared
// order, so asset previews always land in the highest sequence IDs and are
// completed last.
type Class int

const (
	// ClassRegular holds ordinary asset files.
	ClassRegular Class = iota
	// ClassFilePreview holds inline previews of individual files.
	ClassFilePreview
	// ClassAssetPreview holds the single asset-level preview file.
	ClassAssetPreview
)

// String returns a readable class name.
func (c Class) String() string {
	switch c {
	case ClassRegular:
		return "regular"
	case ClassFilePreview:
		return "filePreview"
	case ClassAssetPreview:
		return "assetPreview"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// Sequence is one ordered batch of files sharing a single initialize/complete
// request pair. Sequences are immutable once planned. The ID is monotonically
// increasing and defines part scheduling priority (lower drains first).
type Sequence struct {
	ID         int
	Class      Class
	Files      []FileInfo
	TotalSize  int64
	TotalParts int

	// Parts maps a file index to that file's planned parts.
	Parts map[int][]PartInfo
}

// Preview reports whether the sequence belongs to a preview class. Preview
// sequences may only complete after every regular sequence completed.
func (s Sequence) Preview() bool {
	return s.Class != ClassRegular
}

// PlanSequences groups files into sequences that respect the backend limits:
// per-sequence total size, file count and part count. Files are partitioned
// into priority classes (regular, file preview, asset preview) and packed
// greedily within each class, preserving input order. A file whose own size
// meets or exceeds the sequence size limit is always placed alone.
//
// Packing is greedy, not optimal: the goal is respecting the limits, not
// minimizing sequence count.
func PlanSequences(files []FileInfo, limits Limits) ([]Sequence, error) {
	var regular, filePreviews, assetPreviews []FileInfo
	for _, f := range files {
		switch {
		case f.AssetPreview:
			assetPreviews = append(assetPreviews, f)
		case f.PreviewFile:
			filePreviews = append(filePreviews, f)
		default:
			regular = append(regular, f)
		}
	}
	if len(assetPreviews) > 1 {
		return nil, fmt.Errorf("only one asset-level preview file is allowed, got %d", len(assetPreviews))
	}

	var sequences []Sequence
	nextID := 1
	for _, class := range []struct {
		class Class
		files []FileInfo
	}{
		{class: ClassRegular, files: regular},
		{class: ClassFilePreview, files: filePreviews},
		{class: ClassAssetPreview, files: assetPreviews},
	} {
		packed, err := packClass(class.files, class.class, limits, &nextID)
		if err != nil {
			return nil, err
		}
		sequences = append(sequences, packed...)
	}

	return sequences, nil
}

// NeedsMultipleSequences reports whether the given files produce more than
// one sequence (including mixed preview/regular batches), so callers can
// decide whether to surface batching to the user.
func NeedsMultipleSequences(files []FileInfo, limits Limits) (bool, error) {
	sequences, err := PlanSequences(files, limits)
	if err != nil {
		return false, err
	}
	return len(sequences) > 1, nil
}

func packClass(files []FileInfo, class Class, limits Limits, nextID *int) ([]Sequence, error) {
	var out []Sequence
	current := newSequence(*nextID, class)

	closeCurrent := func() {
		if len(current.Files) == 0 {
			return
		}
		out = append(out, current)
		*nextID++
		current = newSequence(*nextID, class)
	}

	for _, f := range files {
		parts := PlanParts(f.Size, limits)
		if len(parts) > limits.MaxPartsPerFile {
			return nil, fmt.Errorf("file %s needs %d parts, exceeding the per-file limit of %d",
				f.RelativePath, len(parts), limits.MaxPartsPerFile)
		}

		// A file at or above the sequence size limit never shares a batch.
		if f.Size >= limits.MaxSequenceSize {
			closeCurrent()
			current.addFile(f, parts)
			closeCurrent()
			continue
		}

		if len(current.Files) > 0 && exceedsLimits(current, f, parts, limits) {
			closeCurrent()
		}
		current.addFile(f, parts)
	}
	closeCurrent()

	return out, nil
}

func exceedsLimits(seq Sequence, f FileInfo, parts []PartInfo, limits Limits) bool {
	if seq.TotalSize+f.Size > limits.MaxSequenceSize {
		return true
	}
	if len(seq.Files)+1 > limits.MaxFilesPerSequence {
		return true
	}
	if seq.TotalParts+len(parts) > limits.MaxPartsPerSequence {
		return true
	}
	return false
}

func newSequence(id int, class Class) Sequence {
	return Sequence{
		ID:    id,
		Class: class,
		Parts: map[int][]PartInfo{},
	}
}

func (s *Sequence) addFile(f FileInfo, parts []PartInfo) {
	s.Files = append(s.Files, f)
	s.TotalSize += f.Size
	s.TotalParts += len(parts)
	s.Parts[f.Index] = parts
}
