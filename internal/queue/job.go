package queue

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/hbomb79/episodemux/internal/request"
)

type (
	// Job is one concrete unit of work: a single chapter of a single show. The ID
	// only exists to correlate events and log lines for the job.
	Job struct {
		ID         uuid.UUID
		URL        string
		DefaultSub string
		Season     int
		Chapter    int
	}

	// Result is the outcome of executing a Job. OutputPath is only
	// populated when Err is nil.
	Result struct {
		Job        Job
		OutputPath string
		Err        error
	}
)

func (job Job) String() string {
	return fmt.Sprintf("{url=%s season=%d chapter=%d sub=%s}", job.URL, job.Season, job.Chapter, job.DefaultSub)
}

// Expand converts a request in to the jobs it describes. A single chapter request
// yields one job, a range request yields one job per chapter in the inclusive range
// (ascending). Requests which specify neither, or whose range is inverted, yield
// no jobs.
func Expand(req request.Request) []Job {
	var chapters []int
	if req.Chapter != nil {
		chapters = []int{*req.Chapter}
	} else if req.IsRange() && *req.From <= *req.To {
		chapters = make([]int, 0, *req.To-*req.From+1)
		for chapter := *req.From; chapter <= *req.To; chapter++ {
			chapters = append(chapters, chapter)
		}
	}

	jobs := make([]Job, 0, len(chapters))
	for _, chapter := range chapters {
		jobs = append(jobs, Job{
			ID:         uuid.New(),
			URL:        req.URL,
			DefaultSub: req.DefaultSub,
			Season:     req.Season,
			Chapter:    chapter,
		})
	}

	return jobs
}
