package background_tasks

import (
	"sync"
	"time"
)

// Scheduler orchestrates the execution of tasks based on their triggers.
type Scheduler struct {
	tasks           map[int]*Task // Map of tasks by their ID.
	runningTasks    map[int]bool  // Map to keep track of running tasks.
	ticker          *time.Ticker  // Ticker for periodic checks of task triggers.
	stopChan        chan struct{} // Channel to signal stopping the scheduler.
	maxRunningTasks int           // Maximum number of tasks that can run concurrently.
	lastTaskID      int           // Counter for assigning unique IDs to tasks.
	mu              sync.Mutex    // Mutex to protect access to task maps.
}

// NewScheduler creates a new Scheduler with a specified limit on running tasks.
func NewScheduler(maxRunningTasks int) *Scheduler {
	return &Scheduler{
		tasks:           make(map[int]*Task),
		runningTasks:    make(map[int]bool),
		ticker:          time.NewTicker(1 * time.Second),
		stopChan:        make(chan struct{}),
		maxRunningTasks: maxRunningTasks,
	}
}

// AddTask adds a new task to the scheduler and initializes its state.
func (s *Scheduler) AddTask(task *Task) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	task.ID = s.lastTaskID
	task.Enabled = true

	for _, trigger := range task.Triggers {
		trigger.Reset()
	}

	s.tasks[task.ID] = task
	s.lastTaskID++

	return task
}

// RemoveTask removes a task from the scheduler.
func (s *Scheduler) RemoveTask(taskID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, taskID)
}

// Start begins the scheduler's task execution loop.
func (s *Scheduler) Start() {
	go func() {
		for {
			select {
			case <-s.stopChan:
				return
			case <-s.ticker.C:
				s.runTasks()
			}
		}
	}()
}

// Stop signals the scheduler to stop running tasks.
func (s *Scheduler) Stop() {
	close(s.stopChan)
}

func (s *Scheduler) runningTasksCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, isRunning := range s.runningTasks {
		if isRunning {
			count++
		}
	}
	return count
}

// runTasks checks each enabled task's triggers and runs those that are ready.
func (s *Scheduler) runTasks() {
	s.mu.Lock()
	pending := make([]*Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		if task.Enabled && !s.runningTasks[task.ID] {
			pending = append(pending, task)
		}
	}
	s.mu.Unlock()

	for _, task := range pending {
		for _, trigger := range task.Triggers {
			if trigger.IsReady() && s.runningTasksCount() < s.maxRunningTasks {
				s.mu.Lock()
				s.runningTasks[task.ID] = true
				s.mu.Unlock()
				go s.runTask(task.ID)
				trigger.Reset()
				break
			}
		}
	}
}

// runTask executes a task and manages its lifecycle and retry policy.
func (s *Scheduler) runTask(taskID int) {
	defer func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.runningTasks[taskID] = false
	}()

	s.mu.Lock()
	task := s.tasks[taskID]
	s.mu.Unlock()
	if task == nil {
		return
	}

	for i := 0; i < task.RetryPolicy.MaxRetries+1; i++ {
		err := task.Function(task.Args)
		if err == nil {
			return
		}
		zlog.Sugar().Errorf("task %q failed: %v", task.Name, err)
		time.Sleep(task.RetryPolicy.Delay)
	}
}
