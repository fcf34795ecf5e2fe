package domain

import "time"

// Share types of a project job reference
const (
	SharePersonal = "personal"
	SharePublic   = "public"
)

// PublicUser owns jobs shared with every portal user. The notifier skips them.
const PublicUser = "public"

// TrashState is the soft-delete marker of an experiment. Legacy is set for
// records written before trash timestamps existed; they carry no time.
type TrashState struct {
	At     time.Time
	Legacy bool
}

// IsTrashed reports whether the experiment is in the trash.
func (t TrashState) IsTrashed() bool {
	return t.Legacy || !t.At.IsZero()
}

// Experiment is the metadata record of one job.
type Experiment struct {
	JobName      string
	User         string
	Nickname     string
	Project      string
	Modality     string
	Tool         string
	ContactEmail string
	CreatedAt    time.Time
	Trashed      TrashState
	Removed      bool
}

// IsPublic reports whether the experiment belongs to the shared public user.
func (e *Experiment) IsPublic() bool {
	return e.User == PublicUser
}

// JobRef is one entry of a project's job list.
type JobRef struct {
	JobName   string
	ShareType string
	Modality  string
}

// Project groups the jobs of one user.
type Project struct {
	Name           string
	User           string
	Description    string
	Jobs           []JobRef
	NumExperiments int
	CreatedAt      time.Time
}

// HasJob reports whether the project references jobName.
func (p *Project) HasJob(jobName string) bool {
	for _, ref := range p.Jobs {
		if ref.JobName == jobName {
			return true
		}
	}
	return false
}

// JobSummary is one row of a user's job listing.
type JobSummary struct {
	JobName   string
	Name      string
	Project   string
	Date      string
	ShareType string
	Modality  string
	CreatedAt time.Time
	Trashed   TrashState
}
