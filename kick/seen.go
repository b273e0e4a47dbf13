package kick

// seenSet remembers recently relayed message ids so overlapping poll batches
// and socket-to-poll handoffs do not double-deliver. Bounded FIFO: the oldest
// ids age out at capacity. Not safe for concurrent use; each connector owns
// one and touches it from its Run goroutine only.
type seenSet struct {
	limit int
	ids   map[string]struct{}
	order []string
}

func newSeenSet(limit int) *seenSet {
	if limit <= 0 {
		limit = seenCap
	}
	return &seenSet{limit: limit, ids: make(map[string]struct{}, limit)}
}

// Add records id and reports whether it was new.
func (s *seenSet) Add(id string) bool {
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	s.order = append(s.order, id)
	if len(s.order) > s.limit {
		delete(s.ids, s.order[0])
		s.order = s.order[1:]
	}
	return true
}

func (s *seenSet) Len() int { return len(s.ids) }
