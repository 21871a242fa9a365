package web

import (
	"sync"
	"time"

	"formatforge-go/internal/archive"
	"formatforge-go/internal/batch"
	"formatforge-go/internal/converter"
	"formatforge-go/internal/format"

	"github.com/google/uuid"
)

// Job is one finished upload batch kept for download.
type Job struct {
	ID        string
	CreatedAt time.Time
	Target    format.Format
	Outcome   *batch.Outcome

	// files maps a unique download name to its conversion result.
	files map[string]*converter.Result
	names []string
	// downloadName holds the download name of each converted record, by index.
	downloadName map[int]string
}

func newJob(target format.Format, out *batch.Outcome) *Job {
	j := &Job{
		ID:           uuid.NewString(),
		CreatedAt:    time.Now(),
		Target:       target,
		Outcome:      out,
		files:        make(map[string]*converter.Result),
		downloadName: make(map[int]string),
	}

	var converted []batch.Record
	var entries []archive.File
	for _, rec := range out.Records {
		if rec.Status == batch.StatusConverted && rec.Result != nil {
			converted = append(converted, rec)
			entries = append(entries, archive.File{Name: rec.Result.Filename})
		}
	}
	for i, name := range archive.UniqueNames(entries) {
		j.files[name] = converted[i].Result
		j.names = append(j.names, name)
		j.downloadName[converted[i].Index] = name
	}
	return j
}

// File returns the converted result stored under a download name.
func (j *Job) File(name string) (*converter.Result, bool) {
	r, ok := j.files[name]
	return r, ok
}

// ArchiveFiles lists every converted file in record order.
func (j *Job) ArchiveFiles() []archive.File {
	out := make([]archive.File, 0, len(j.names))
	for _, n := range j.names {
		out = append(out, archive.File{Name: n, Data: j.files[n].Data})
	}
	return out
}

// JobStore keeps recent jobs in memory, bounded by age and count.
type JobStore struct {
	mu        sync.RWMutex
	jobs      map[string]*Job
	order     []string
	retention time.Duration
	maxJobs   int
	now       func() time.Time
}

// NewJobStore creates a JobStore.
func NewJobStore(retention time.Duration, maxJobs int) *JobStore {
	return &JobStore{
		jobs:      make(map[string]*Job),
		retention: retention,
		maxJobs:   maxJobs,
		now:       time.Now,
	}
}

// Add stores j and evicts expired or surplus jobs.
func (s *JobStore) Add(j *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[j.ID] = j
	s.order = append(s.order, j.ID)
	s.evictLocked()
}

// Get returns the job with id if it is still retained.
func (s *JobStore) Get(id string) (*Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok || s.expired(j) {
		return nil, false
	}
	return j, true
}

// Delete removes a job.
func (s *JobStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return false
	}
	delete(s.jobs, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Len returns the number of stored jobs.
func (s *JobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

func (s *JobStore) expired(j *Job) bool {
	return s.retention > 0 && s.now().Sub(j.CreatedAt) > s.retention
}

func (s *JobStore) evictLocked() {
	kept := s.order[:0]
	for _, id := range s.order {
		if s.expired(s.jobs[id]) {
			delete(s.jobs, id)
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept

	for s.maxJobs > 0 && len(s.order) > s.maxJobs {
		delete(s.jobs, s.order[0])
		s.order = s.order[1:]
	}
}
