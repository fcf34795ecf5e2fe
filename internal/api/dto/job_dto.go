package dto

type SubmitJobRequest struct {
	User         string `json:"user" binding:"required"`
	Nickname     string `json:"nickname" binding:"required"`
	Project      string `json:"project" binding:"required"`
	Modality     string `json:"modality"`
	Tool         string `json:"tool"`
	ContactEmail string `json:"contact_email" binding:"omitempty,email"`
}

type ListJobsRequest struct {
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
	Trashed  string `form:"trashed"` // exclude (default), include, only
}

type ListJobsResponse struct {
	Jobs       []JobSummaryDTO `json:"jobs"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type JobSummaryDTO struct {
	JobName   string `json:"job_name"`
	Name      string `json:"name"`
	Project   string `json:"project"`
	Date      string `json:"date"`
	ShareType string `json:"share_type"`
	Modality  string `json:"modality"`
	Trashed   bool   `json:"trashed"`
}

type ExperimentDTO struct {
	JobName      string `json:"job_name"`
	User         string `json:"user"`
	Nickname     string `json:"nickname"`
	Project      string `json:"project"`
	Modality     string `json:"modality"`
	Tool         string `json:"tool,omitempty"`
	ContactEmail string `json:"contact_email,omitempty"`
	CreatedAt    string `json:"created_at"`
	Trashed      bool   `json:"trashed"`
	TrashedAt    string `json:"trashed_at,omitempty"`
}

type JobStatusDTO struct {
	JobName  string `json:"job_name"`
	Code     string `json:"code"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Updated  string `json:"updated"`
	Notified bool   `json:"notified"`
}

type TrashEntryDTO struct {
	JobName   string `json:"job_name"`
	Name      string `json:"name"`
	Project   string `json:"project"`
	Date      string `json:"date"`
	Modality  string `json:"modality"`
	TrashedAt string `json:"trashed_at"`
	ExpiresAt string `json:"expires_at"`
}

type TrashViewResponse struct {
	Jobs []TrashEntryDTO `json:"jobs"`
}
