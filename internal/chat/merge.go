package chat

import (
	"sort"
	"time"

	"casechat/internal/domain"
)

// DefaultDedupeWindow is the time tolerance used to match a pending entry to
// its store-confirmed counterpart.
const DefaultDedupeWindow = 60 * time.Second

// MergeMessage merges one incoming message into an ordered list and returns
// the new list. It never mutates its inputs and performs no I/O; both the
// live-subscription path and pagination merges go through it, which is what
// keeps overlap between those two channels harmless: applying the same
// message twice leaves the list unchanged after the first application.
//
// Matching runs in two passes. An exact pass pairs entries whose id/tempId
// relate in either direction (confirmation of a known message). A heuristic
// pass pairs the incoming message with a still-pending entry from the same
// sender carrying identical content and attachment count within the dedupe
// window. Anything unmatched is appended after a defensive sweep of
// near-duplicate pending entries. The result is always re-sorted by
// timestamp ascending.
func MergeMessage(list []*domain.Message, incoming *domain.Message, window time.Duration) []*domain.Message {
	if incoming == nil {
		return list
	}
	if window <= 0 {
		window = DefaultDedupeWindow
	}

	merged := make([]*domain.Message, len(list))
	copy(merged, list)

	// Exact id relationship, from either side.
	for i, existing := range merged {
		if idsRelate(existing, incoming) {
			merged[i] = confirm(incoming)
			sortByTimestamp(merged)
			return merged
		}
	}

	// Heuristic pending match: reconcile an optimistic entry whose
	// confirmed twin came back without any shared identifier.
	for i, existing := range merged {
		if existing.Status != domain.StatusPending || existing.TempID == "" {
			continue
		}
		if pendingMatches(existing, incoming, window) {
			merged[i] = confirm(incoming)
			sortByTimestamp(merged)
			return merged
		}
	}

	// No match: sweep lingering pending near-duplicates, then append.
	out := merged[:0:len(merged)]
	for _, existing := range merged {
		if existing.Status == domain.StatusPending && existing.TempID != "" &&
			pendingMatches(existing, incoming, window) {
			continue
		}
		out = append(out, existing)
	}
	out = append(out, confirm(incoming))
	sortByTimestamp(out)
	return out
}

// MergeAll folds a batch of incoming messages through MergeMessage, left to
// right.
func MergeAll(list []*domain.Message, incoming []*domain.Message, window time.Duration) []*domain.Message {
	for _, m := range incoming {
		list = MergeMessage(list, m, window)
	}
	return list
}

// idsRelate reports whether two entries identify the same message through any
// id/tempId pairing.
func idsRelate(existing, incoming *domain.Message) bool {
	if incoming.ID != "" && (incoming.ID == existing.ID || incoming.ID == existing.TempID) {
		return true
	}
	if incoming.TempID != "" && (incoming.TempID == existing.ID || incoming.TempID == existing.TempID) {
		return true
	}
	return false
}

// pendingMatches applies the heuristic for pairing a pending entry with an
// unrelated-looking incoming message: same sender (unknown tolerated on
// either side), identical content, identical attachment count, timestamps
// within the dedupe window.
func pendingMatches(existing, incoming *domain.Message, window time.Duration) bool {
	if existing.SenderID != "" && incoming.SenderID != "" && existing.SenderID != incoming.SenderID {
		return false
	}
	if existing.Content != incoming.Content {
		return false
	}
	if len(existing.Attachments) != len(incoming.Attachments) {
		return false
	}
	delta := existing.Timestamp - incoming.Timestamp
	if delta < 0 {
		delta = -delta
	}
	return delta < window.Milliseconds()
}

// confirm normalizes an incoming message before it enters the list. Entries
// with a store id never keep a tempId, and a missing status defaults to sent.
func confirm(incoming *domain.Message) *domain.Message {
	m := *incoming
	if m.Status == "" {
		m.Status = domain.StatusSent
	}
	if m.ID != "" {
		m.TempID = ""
	}
	return &m
}

func sortByTimestamp(list []*domain.Message) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Timestamp < list[j].Timestamp
	})
}
