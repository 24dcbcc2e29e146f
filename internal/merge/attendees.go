package merge

import "tidecal/internal/domain"

// mergeAttendees reconciles the attendee lists by id-keyed upsert, keeping
// the local list's ordering. Removals are tombstones (Deleted=true), never
// slice deletions, so historical ordering stays stable across merges.
//
// Content conflicts (attendee added, removed or edited locally) and RSVP
// conflicts (status-only change) are reported independently because they
// trigger different follow-up work: a re-push versus an update mail.
func mergeAttendees(local, incoming []domain.Attendee) (merged []domain.Attendee, contentConflict, rsvpConflict bool, maxUpdated int64) {
	incByID := make(map[string]domain.Attendee, len(incoming))
	for _, a := range incoming {
		incByID[a.ID] = a
	}

	seen := make(map[string]bool, len(local))
	merged = make([]domain.Attendee, 0, len(local)+len(incoming))

	for _, loc := range local {
		seen[loc.ID] = true
		inc, ok := incByID[loc.ID]
		if !ok {
			// Locally-known attendee the server has no record of: a local
			// add (or not-yet-pushed edit) that must go back out.
			merged = append(merged, loc)
			if !loc.Deleted {
				contentConflict = true
			}
			maxUpdated = maxInt64(maxUpdated, loc.UpdatedAt)
			continue
		}
		if inc.UpdatedAt >= loc.UpdatedAt {
			merged = append(merged, inc)
			maxUpdated = maxInt64(maxUpdated, inc.UpdatedAt)
			continue
		}
		// Local entry is newer: keep it and flag the right conflict class.
		merged = append(merged, loc)
		if loc.StatusOnlyDiff(inc) {
			rsvpConflict = true
		} else {
			contentConflict = true
		}
		maxUpdated = maxInt64(maxUpdated, loc.UpdatedAt)
	}

	// Attendees only the server knows about are appended in wire order.
	for _, inc := range incoming {
		if seen[inc.ID] {
			continue
		}
		merged = append(merged, inc)
		maxUpdated = maxInt64(maxUpdated, inc.UpdatedAt)
	}

	return merged, contentConflict, rsvpConflict, maxUpdated
}
