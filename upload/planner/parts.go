package planner

// ChunkSizeFor returns the part size used for a file of the given size.
// Files at or above the large-file threshold use the large chunk size.
func ChunkSizeFor(size int64, limits Limits) int64 {
	if size >= limits.LargeFileThreshold {
		return limits.LargeFileChunkSize
	}
	return limits.ChunkSize
}

// CountParts returns the number of parts a file of the given size needs.
func CountParts(size int64, limits Limits) int {
	if size == 0 {
		return 0
	}
	chunk := ChunkSizeFor(size, limits)
	return int((size + chunk - 1) / chunk)
}

// PlanParts splits a file of the given size into ordered, contiguous,
// non-overlapping parts that exactly cover [0, size). A zero-byte file yields
// no parts: such files are valid and complete without any part upload.
func PlanParts(size int64, limits Limits) []PartInfo {
	if size == 0 {
		return nil
	}

	chunk := ChunkSizeFor(size, limits)
	parts := make([]PartInfo, 0, CountParts(size, limits))
	for start := int64(0); start < size; start += chunk {
		end := start + chunk
		if end > size {
			end = size
		}
		parts = append(parts, PartInfo{
			PartNumber: len(parts) + 1,
			StartByte:  start,
			EndByte:    end,
			Size:       end - start,
		})
	}
	return parts
}
