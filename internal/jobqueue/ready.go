package jobqueue

// entry is a job waiting in the ready set.
type entry struct {
	job      Job
	seq      uint64
	priority int
	bypassed int // times a younger job was served first
}

// readySet orders waiting jobs by priority (highest first) and, within a
// priority, by admission order. A job that has been overtaken starvationLimit
// times is served before any higher-priority job.
//
// Entries are kept in admission order; volumes are small enough that a linear
// scan beats maintaining a heap plus an age index.
type readySet struct {
	entries []*entry
}

func (r *readySet) len() int {
	return len(r.entries)
}

func (r *readySet) push(e *entry) {
	r.entries = append(r.entries, e)
}

// pop removes and returns the next entry to run.
func (r *readySet) pop(starvationLimit int) (*entry, bool) {
	if len(r.entries) == 0 {
		return nil, false
	}

	pick := -1
	if starvationLimit > 0 {
		for i, e := range r.entries {
			if e.bypassed >= starvationLimit {
				pick = i
				break
			}
		}
	}

	if pick < 0 {
		pick = 0
		for i, e := range r.entries {
			if e.priority > r.entries[pick].priority {
				pick = i
			}
		}
	}

	chosen := r.entries[pick]
	for _, e := range r.entries[:pick] {
		e.bypassed++
	}

	copy(r.entries[pick:], r.entries[pick+1:])
	r.entries[len(r.entries)-1] = nil
	r.entries = r.entries[:len(r.entries)-1]

	return chosen, true
}
