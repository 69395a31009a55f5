package progress

import "strings"

const keyPrefix = "dispatch:job"

// Key returns the Redis key holding the latest snapshot of a job.
// Format: dispatch:job:<job id>:progress
func Key(jobID string) string {
	return strings.Join([]string{keyPrefix, jobID, "progress"}, ":")
}
