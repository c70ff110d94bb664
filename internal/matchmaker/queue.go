package matchmaker

// waitQueue is a FIFO of connection ids. Membership is tracked so an id is
// never queued twice.
type waitQueue struct {
	ids []string
	in  map[string]struct{}
}

func newWaitQueue() *waitQueue {
	return &waitQueue{in: make(map[string]struct{})}
}

func (q *waitQueue) Len() int { return len(q.ids) }

func (q *waitQueue) Has(id string) bool {
	_, ok := q.in[id]
	return ok
}

// Push appends id. It reports false if id was already waiting.
func (q *waitQueue) Push(id string) bool {
	if q.Has(id) {
		return false
	}
	q.ids = append(q.ids, id)
	q.in[id] = struct{}{}
	return true
}

// PushFront puts id back at the head, ahead of everyone else.
func (q *waitQueue) PushFront(id string) bool {
	if q.Has(id) {
		return false
	}
	q.ids = append([]string{id}, q.ids...)
	q.in[id] = struct{}{}
	return true
}

func (q *waitQueue) Pop() (string, bool) {
	if len(q.ids) == 0 {
		return "", false
	}
	id := q.ids[0]
	q.ids[0] = ""
	q.ids = q.ids[1:]
	delete(q.in, id)
	return id, true
}

func (q *waitQueue) Remove(id string) {
	if !q.Has(id) {
		return
	}
	delete(q.in, id)
	for i, v := range q.ids {
		if v == id {
			q.ids = append(q.ids[:i], q.ids[i+1:]...)
			return
		}
	}
}

// Snapshot returns the waiting ids oldest first.
func (q *waitQueue) Snapshot() []string {
	out := make([]string, len(q.ids))
	copy(out, q.ids)
	return out
}
