package exports

import (
	"time"

	"fldata/lib/timezone"
)

type fetchKey struct {
	Slug    string
	Version int
}

// Outcomes remembers which dataset fetches failed during a download
// pass. The post-processing stage consults it to keep visualization
// jobs from running against stale or missing tables.
type Outcomes struct {
	failures map[fetchKey]map[string]time.Time
}

func NewOutcomes() *Outcomes {
	return &Outcomes{failures: map[fetchKey]map[string]time.Time{}}
}

func (o *Outcomes) RecordFailure(slug string, version int, fileName string) {
	key := fetchKey{Slug: slug, Version: version}
	if o.failures[key] == nil {
		o.failures[key] = map[string]time.Time{}
	}
	o.failures[key][fileName] = timezone.Now()
}

func (o *Outcomes) IsFailed(slug string, version int, fileName string) bool {
	_, failed := o.failures[fetchKey{Slug: slug, Version: version}][fileName]
	return failed
}

// Failed returns the names of every dataset that failed for one course
// run.
func (o *Outcomes) Failed(slug string, version int) []string {
	var out []string
	for fileName := range o.failures[fetchKey{Slug: slug, Version: version}] {
		out = append(out, fileName)
	}
	return out
}
