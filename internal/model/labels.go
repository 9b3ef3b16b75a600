package model

// LabelCount is one time-of-day label of a round and how many of the round's
// tasks use it.
type LabelCount struct {
	Label string
	Count int
}

// LabelCounts is the ordered label list of a round with each label's
// reference count. Order is display order; labels are unique.
type LabelCounts []LabelCount

// NewLabelCounts zips the stored parallel arrays. It reports false when the
// lengths differ, a label repeats or a count is not positive.
func NewLabelCounts(labels []string, counts []int) (LabelCounts, bool) {
	if len(labels) != len(counts) {
		return nil, false
	}
	lc := make(LabelCounts, len(labels))
	seen := make(map[string]bool, len(labels))
	for i := range labels {
		if counts[i] <= 0 || seen[labels[i]] {
			return nil, false
		}
		seen[labels[i]] = true
		lc[i] = LabelCount{Label: labels[i], Count: counts[i]}
	}
	return lc, true
}

func (lc LabelCounts) Labels() []string {
	out := make([]string, len(lc))
	for i, c := range lc {
		out[i] = c.Label
	}
	return out
}

func (lc LabelCounts) Counts() []int {
	out := make([]int, len(lc))
	for i, c := range lc {
		out[i] = c.Count
	}
	return out
}

// Index returns the position of label, or -1.
func (lc LabelCounts) Index(label string) int {
	for i, c := range lc {
		if c.Label == label {
			return i
		}
	}
	return -1
}

// Count returns the reference count of label, 0 when absent.
func (lc LabelCounts) Count(label string) int {
	if i := lc.Index(label); i >= 0 {
		return lc[i].Count
	}
	return 0
}

func (lc LabelCounts) Clone() LabelCounts {
	if lc == nil {
		return nil
	}
	out := make(LabelCounts, len(lc))
	copy(out, lc)
	return out
}

// Equal reports whether both hold the same labels, counts and order.
func (lc LabelCounts) Equal(other LabelCounts) bool {
	if len(lc) != len(other) {
		return false
	}
	for i := range lc {
		if lc[i] != other[i] {
			return false
		}
	}
	return true
}
