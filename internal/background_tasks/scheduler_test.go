package background_tasks

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSchedulerAddAndRemoveTask(t *testing.T) {
	scheduler := NewScheduler(2)

	task := &Task{
		Name:        "dispatch pass",
		Description: "a task for testing",
		Function: func(args interface{}) error {
			return nil
		},
		Triggers: []Trigger{&OneTimeTrigger{Delay: 1 * time.Second}},
	}

	addedTask := scheduler.AddTask(task)
	assert.Equal(t, 0, addedTask.ID, "Task ID should be set correctly")
	assert.True(t, addedTask.Enabled)

	scheduler.RemoveTask(0)
	assert.Equal(t, 0, len(scheduler.tasks), "Task should be removed from scheduler")
}

func TestSchedulerTaskExecution(t *testing.T) {
	scheduler := NewScheduler(1)

	triggered := make(chan bool, 1)
	task := &Task{
		Name:        "dispatch pass",
		Description: "a task for testing",
		Function: func(_ interface{}) error {
			triggered <- true
			return nil
		},
		Triggers: []Trigger{&OneTimeTrigger{Delay: 1 * time.Millisecond}},
	}

	scheduler.AddTask(task)
	scheduler.Start()
	defer scheduler.Stop()

	select {
	case <-triggered:
		// Test passed
	case <-time.After(3 * time.Second):
		t.Error("Task was not executed within the expected time")
	}
}

func TestSchedulerRetriesFailedTask(t *testing.T) {
	scheduler := NewScheduler(1)

	var attempts int32
	task := &Task{
		Name: "flaky sweep",
		Function: func(_ interface{}) error {
			if atomic.AddInt32(&attempts, 1) < 3 {
				return fmt.Errorf("transient failure")
			}
			return nil
		},
		Triggers:    []Trigger{&OneTimeTrigger{Delay: 1 * time.Millisecond}},
		RetryPolicy: RetryPolicy{MaxRetries: 3, Delay: 10 * time.Millisecond},
	}

	scheduler.AddTask(task)
	scheduler.Start()
	defer scheduler.Stop()

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&attempts) == 3
	}, 5*time.Second, 10*time.Millisecond, "the task should succeed on its third attempt")
}

func TestSchedulerPassesTaskArgs(t *testing.T) {
	scheduler := NewScheduler(1)

	received := make(chan interface{}, 1)
	task := &Task{
		Name: "argument check",
		Function: func(args interface{}) error {
			received <- args
			return nil
		},
		Args:     "sweep-interval",
		Triggers: []Trigger{&OneTimeTrigger{Delay: 1 * time.Millisecond}},
	}

	scheduler.AddTask(task)
	scheduler.Start()
	defer scheduler.Stop()

	select {
	case got := <-received:
		assert.Equal(t, "sweep-interval", got)
	case <-time.After(3 * time.Second):
		t.Error("Task was not executed within the expected time")
	}
}
