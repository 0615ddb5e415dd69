// internal/job/job.go
package job

import (
	"github.com/google/uuid"
)

// Platform identifies the video host a job targets.
type Platform string

const (
	PlatformYouTube Platform = "youtube"
	PlatformRumble  Platform = "rumble"
	PlatformUnknown Platform = "unknown"
)

// Job is one URL's end-to-end watch task. It is a value type and never mutated
// after FromURLs builds it.
type Job struct {
	ID       string   `json:"id"`
	URL      string   `json:"url"`
	VideoID  string   `json:"video_id"`
	Platform Platform `json:"platform"`
}

// Rejected records an input URL that could not become a job.
type Rejected struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

// FromURLs classifies every input URL and returns, in input order, the jobs that
// have a known platform and an extractable video id. Everything else is returned
// in the rejected list so the caller can report it. Job.URL is the normalized
// form, so scheme-less input navigates as https.
func FromURLs(urls []string) ([]Job, []Rejected) {
	jobs := make([]Job, 0, len(urls))
	var rejected []Rejected

	for _, raw := range urls {
		platform, videoID, u := classify(raw)
		switch {
		case platform == PlatformUnknown:
			rejected = append(rejected, Rejected{URL: raw, Reason: "unsupported platform"})
		case videoID == "":
			rejected = append(rejected, Rejected{URL: raw, Reason: "no video id"})
		default:
			jobs = append(jobs, Job{
				ID:       uuid.NewString(),
				URL:      u.String(),
				VideoID:  videoID,
				Platform: platform,
			})
		}
	}
	return jobs, rejected
}
