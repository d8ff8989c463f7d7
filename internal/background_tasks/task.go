package background_tasks

import (
	"time"
)

// RetryPolicy defines the policy for retrying tasks on failure.
type RetryPolicy struct {
	MaxRetries int           // Maximum number of retries.
	Delay      time.Duration // Delay between retries.
}

// Task represents a schedulable background task, such as the job dispatch
// pass or the expired-host sweep.
type Task struct {
	ID          int                          // Unique identifier for the task.
	Name        string                       // Name of the task.
	Description string                       // Description of the task.
	Triggers    []Trigger                    // List of triggers for the task.
	Function    func(args interface{}) error // Function to execute as the task.
	Args        interface{}                  // Argument for the task function.
	RetryPolicy RetryPolicy                  // Retry policy for the task.
	Enabled     bool                         // Flag indicating if the task is enabled.
}
