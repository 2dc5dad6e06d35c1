package syncer

import (
	"github.com/jmbish04/gh-stars-sink/internal/storage"
)

// Outcome classifies what happened to one payload of a batch.
type Outcome string

const (
	OutcomeInserted Outcome = "inserted"
	OutcomeUpdated  Outcome = "updated"
	// OutcomeDegraded means the catalog row committed but a collaborator
	// failed; the repository is flagged for reindex.
	OutcomeDegraded Outcome = "degraded"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeConflict Outcome = "conflict"
	// OutcomeFailed means nothing was written and the batch was aborted.
	OutcomeFailed Outcome = "failed"
)

// ItemResult is the outcome of one payload.
type ItemResult struct {
	Index            int     `json:"index"`
	ID               int64   `json:"id"`
	FullName         string  `json:"full_name"`
	Outcome          Outcome `json:"outcome"`
	VectorsWritten   int     `json:"vectors_written"`
	VectorsUnchanged int     `json:"vectors_unchanged"`
	VectorsDeleted   int     `json:"vectors_deleted"`
	Annotated        bool    `json:"annotated"`
	Err              error   `json:"-"`
}

func (i ItemResult) committed() bool {
	switch i.Outcome {
	case OutcomeInserted, OutcomeUpdated, OutcomeDegraded:
		return true
	default:
		return false
	}
}

// Result summarises one sync batch.
type Result struct {
	JobID  string            `json:"job_id"`
	Status storage.JobStatus `json:"status"`

	Processed int `json:"processed"`
	Inserted  int `json:"inserted"`
	Skipped   int `json:"skipped"`
	Conflicts int `json:"conflicts"`
	// Failed counts repositories whose collaborator step failed.
	Failed int `json:"failed"`

	VectorsUpserted  int `json:"vectors_upserted"`
	VectorsUnchanged int `json:"vectors_unchanged"`
	VectorsDeleted   int `json:"vectors_deleted"`
	Annotated        int `json:"annotated"`

	Pruned []int64      `json:"pruned,omitempty"`
	Items  []ItemResult `json:"items"`
	Err    error        `json:"-"`
}

// Counters returns the totals recorded on the sync job.
func (r *Result) Counters() storage.JobCounters {
	return storage.JobCounters{
		ReposProcessed:  r.Processed,
		VectorsUpserted: r.VectorsUpserted,
		ReposSkipped:    r.Skipped + r.Conflicts,
		ReposFailed:     r.Failed,
	}
}

func (r *Result) add(item ItemResult) {
	r.Items = append(r.Items, item)

	if item.committed() {
		r.Processed++
		r.VectorsUpserted += item.VectorsWritten
		r.VectorsUnchanged += item.VectorsUnchanged
		r.VectorsDeleted += item.VectorsDeleted
	}

	if item.Annotated {
		r.Annotated++
	}

	switch item.Outcome {
	case OutcomeInserted:
		r.Inserted++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeConflict:
		r.Conflicts++
	case OutcomeDegraded:
		r.Failed++
	}
}
