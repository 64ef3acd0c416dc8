package chat

import "sort"

// SortMessages orders messages by timestamp ascending, keeping the relative
// order of equal timestamps.
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
}

// MergeMessages reconciles a fetched batch into the local list.
//
// An empty local list is replaced by the batch. Otherwise only messages with
// ids not yet present are appended and the result is re-sorted. The second
// return value reports whether anything changed.
func MergeMessages(existing, batch []Message) ([]Message, bool) {
	if len(existing) == 0 {
		out := make([]Message, len(batch))
		copy(out, batch)
		return out, len(batch) > 0
	}

	seen := make(map[string]struct{}, len(existing))
	for _, m := range existing {
		seen[m.ID] = struct{}{}
	}

	out := make([]Message, len(existing), len(existing)+len(batch))
	copy(out, existing)
	added := false
	for _, m := range batch {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
		added = true
	}
	if !added {
		return existing, false
	}

	SortMessages(out)
	return out, true
}
