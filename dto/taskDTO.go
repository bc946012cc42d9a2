package dto

type SubtaskRequest struct {
	Title string `json:"title" binding:"required"`
}

type CreateTaskRequest struct {
	Title     string           `json:"title" binding:"required"`
	Detail    string           `json:"detail"`
	Category  string           `json:"category"`
	Priority  string           `json:"priority"`
	Source    string           `json:"source"`
	IsProject bool             `json:"is_project"`
	Subtasks  []SubtaskRequest `json:"subtasks"`
}

type SnoozeRequest struct {
	// RFC3339 instant the task stays hidden until.
	Until string `json:"until" binding:"required"`
}
