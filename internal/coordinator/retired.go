package coordinator

import "slices"

// retiredLimit bounds how many ended sessions (and former partners) are
// remembered for stale signal rejection.
const retiredLimit = 64

// retiredSet remembers the most recent ids of ended sessions. The oldest id
// is forgotten first.
type retiredSet struct {
	ids   map[string]struct{}
	order []string
}

func newRetiredSet() *retiredSet {
	return &retiredSet{ids: make(map[string]struct{})}
}

func (r *retiredSet) add(id string) {
	if id == "" || r.has(id) {
		return
	}
	r.ids[id] = struct{}{}
	r.order = append(r.order, id)
	if len(r.order) > retiredLimit {
		delete(r.ids, r.order[0])
		r.order = slices.Delete(r.order, 0, 1)
	}
}

func (r *retiredSet) has(id string) bool {
	_, ok := r.ids[id]
	return ok
}

func (r *retiredSet) len() int { return len(r.order) }

// reset forgets everything. Signals of a previous channel never reach the
// loop, so a new channel starts clean.
func (r *retiredSet) reset() {
	clear(r.ids)
	r.order = r.order[:0]
}
