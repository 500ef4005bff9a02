package model

import "time"

// Task columns.
const (
	StatusTodo       = "todo"
	StatusInProgress = "inprogress"
	StatusDone       = "done"
)

var TaskStatuses = []string{StatusTodo, StatusInProgress, StatusDone}

func ValidStatus(s string) bool {
	for _, v := range TaskStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// Collaborator roles.
const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

type User struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
}

type Project struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Owner     int64     `json:"owner"`
	OwnerName string    `json:"owner_name,omitempty"`
	Finished  bool      `json:"finished"`
	CreatedAt time.Time `json:"created_at"`
}

type Task struct {
	ID          int64     `json:"id"`
	ProjectID   int64     `json:"project_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Assignee    *string   `json:"assignee"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// TaskPatch holds the fields of a partial task update; nil keeps the
// stored value.
type TaskPatch struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Assignee    *string `json:"assignee"`
	Status      *string `json:"status"`
}

// Comment carries its task's project so it can be routed without a lookup.
type Comment struct {
	ID        int64     `json:"id"`
	TaskID    int64     `json:"task_id"`
	ProjectID int64     `json:"project_id,omitempty"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

type Message struct {
	ID        int64     `json:"id"`
	ProjectID int64     `json:"project_id"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

type Collaborator struct {
	ProjectID int64  `json:"project_id"`
	UserID    int64  `json:"user_id"`
	Role      string `json:"role"`
	Username  string `json:"username"`
}

type Notification struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	ProjectID int64     `json:"project_id"`
	Body      string    `json:"body"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// GroupTasks splits tasks into the three board columns. Unknown statuses
// land in todo.
func GroupTasks(tasks []Task) map[string][]Task {
	out := make(map[string][]Task, len(TaskStatuses))
	for _, s := range TaskStatuses {
		out[s] = []Task{}
	}
	for _, t := range tasks {
		s := t.Status
		if !ValidStatus(s) {
			s = StatusTodo
		}
		out[s] = append(out[s], t)
	}
	return out
}
