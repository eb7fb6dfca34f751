package eventlog

import "fmt"

// StreamKey computes the addressing token for one task's event stream:
// chat:{thread_id}:{task_id}. One stream per task; a thread may own
// many streams, one per task it spawned.
func StreamKey(threadID, taskID string) string {
	return fmt.Sprintf("chat:%s:%s", threadID, taskID)
}
