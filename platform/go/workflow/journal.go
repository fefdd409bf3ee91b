package workflow

import "sync"

type entry struct {
	step  *Step
	value any
}

// journal is the completion-ordered list of steps that may need compensating.
type journal struct {
	mu      sync.Mutex
	entries []entry
}

func (j *journal) push(entries ...entry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entries...)
}

// drain hands the entries over to the caller, leaving the journal empty so nothing
// is compensated twice.
func (j *journal) drain() []entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := j.entries
	j.entries = nil
	return out
}
