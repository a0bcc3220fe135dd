package store

import "time"

// resolveWrite applies last-writer-wins semantics for a single document:
// the higher client edit sequence wins, ties fall to the later client
// timestamp, and an exact tie accepts the incoming write. Concurrent
// writers to the same key can therefore "fight"; the store makes no
// attempt to merge transforms.
func resolveWrite(existing *Document, request WriteRequest, appliedAt time.Time) WriteOutcome {
	if existing == nil {
		if request.Delete {
			// Deleting an absent document is a no-op that still reads as
			// accepted: the requested end state already holds.
			return WriteOutcome{Accepted: true, Stored: Document{
				Key:               request.Key,
				Version:           1,
				CreatedAtSeconds:  appliedAt.Unix(),
				UpdatedAtSeconds:  writeTime(request, appliedAt),
				LastWriter:        request.ClientID,
				LastWriterEditSeq: request.ClientEditSeq,
				IsDeleted:         true,
			}}
		}
		return WriteOutcome{Accepted: true, Stored: Document{
			Key:               request.Key,
			PayloadJSON:       request.PayloadJSON,
			Version:           1,
			CreatedAtSeconds:  appliedAt.Unix(),
			UpdatedAtSeconds:  writeTime(request, appliedAt),
			LastWriter:        request.ClientID,
			LastWriterEditSeq: request.ClientEditSeq,
			IsDeleted:         false,
		}}
	}

	accept := false
	switch {
	case request.ClientEditSeq > existing.LastWriterEditSeq:
		accept = true
	case request.ClientEditSeq < existing.LastWriterEditSeq:
		accept = false
	case request.ClientTimeSeconds > existing.UpdatedAtSeconds:
		accept = true
	case request.ClientTimeSeconds < existing.UpdatedAtSeconds:
		accept = false
	default:
		accept = true
	}

	if !accept {
		return WriteOutcome{Accepted: false, Stored: *existing}
	}

	updated := *existing
	updated.LastWriter = request.ClientID
	updated.LastWriterEditSeq = request.ClientEditSeq
	updated.UpdatedAtSeconds = writeTime(request, appliedAt)
	if updated.UpdatedAtSeconds < existing.UpdatedAtSeconds {
		updated.UpdatedAtSeconds = existing.UpdatedAtSeconds
	}
	updated.Version = existing.Version + 1
	if request.Delete {
		updated.IsDeleted = true
	} else {
		updated.IsDeleted = false
		updated.PayloadJSON = request.PayloadJSON
	}
	return WriteOutcome{Accepted: true, Stored: updated}
}

func writeTime(request WriteRequest, appliedAt time.Time) int64 {
	if request.ClientTimeSeconds > 0 {
		return request.ClientTimeSeconds
	}
	return appliedAt.Unix()
}
