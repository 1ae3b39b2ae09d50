package execapi

// Wire types of the remote execution API. Field names follow its JSON
// contract.

type submitTaskRequest struct {
	TaskDescription     string `json:"task_description"`
	DetailedDescription string `json:"detailed_description"`
	RepoURL             string `json:"repo_url"`
	RepoName            string `json:"repo_name"`
}

// TaskSubmission is the result of SubmitTask.
type TaskSubmission struct {
	RemoteJobID string `json:"task_id"`
	BranchName  string `json:"branch_name,omitempty"`
}

// TaskStatus is the result of GetTaskStatus.
type TaskStatus struct {
	Status     string `json:"status"`
	BranchName string `json:"branch_name,omitempty"`
}

type submitProjectRequest struct {
	ProjectDescription string   `json:"project_description"`
	KeyFiles           []string `json:"key_files"`
}

// ProjectSubmission is the result of SubmitProject.
type ProjectSubmission struct {
	RemoteProjectID string   `json:"project_id"`
	SubtaskIDs      []string `json:"subtask_ids"`
}

// Subtask is one per-file unit of a remote project.
type Subtask struct {
	RemoteID    string `json:"task_id"`
	Status      string `json:"status"`
	Description string `json:"task_description"`
	BranchName  string `json:"branch_name"`
}

// ProjectStatus is the result of GetProjectStatus.
type ProjectStatus struct {
	RemoteProjectID string    `json:"project_id"`
	CreatedAt       string    `json:"created_at"`
	UpdatedAt       string    `json:"updated_at"`
	Subtasks        []Subtask `json:"subtasks"`
}
