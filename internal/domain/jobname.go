package domain

import (
	"fmt"
	"strings"
	"time"
)

const (
	// ChannelSuffix is appended to a job name to form its channel name
	ChannelSuffix = ".fifo"

	jobNameTimeLayout = "2006-01-02-15-04-05"
	displayDateLayout = "2006-01-02"
	timestampParts    = 6

	// FIFO queue names are limited to 80 characters including the suffix
	maxSlugLength = 80 - len(ChannelSuffix) - len(jobNameTimeLayout) - 1
	defaultSlug   = "job"
)

// JobName is a parsed job unique name.
type JobName struct {
	Slug      string
	CreatedAt time.Time
}

// String renders the job unique name.
func (n JobName) String() string {
	return n.Slug + "-" + n.CreatedAt.UTC().Format(jobNameTimeLayout)
}

// DisplayDate returns the creation date as YYYY-MM-DD.
func (n JobName) DisplayDate() string {
	return n.CreatedAt.Format(displayDateLayout)
}

// NewJobName builds a job unique name from a user supplied nickname and the
// submission time.
func NewJobName(nickname string, t time.Time) string {
	return JobName{Slug: Slugify(nickname), CreatedAt: t}.String()
}

// Slugify lowercases nickname and keeps only characters valid in a queue name.
func Slugify(nickname string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(strings.TrimSpace(nickname)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
			lastDash = false
		case r == '-' || r == ' ' || r == '.':
			if !lastDash && b.Len() > 0 {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}

	slug := strings.TrimRight(b.String(), "-")
	if len(slug) > maxSlugLength {
		slug = strings.TrimRight(slug[:maxSlugLength], "-")
	}
	if slug == "" {
		return defaultSlug
	}
	return slug
}

// ParseJobName splits a job unique name into its slug and creation time. The
// trailing six dash separated components are always the timestamp.
func ParseJobName(name string) (JobName, error) {
	parts := strings.Split(name, "-")
	if len(parts) <= timestampParts {
		return JobName{}, fmt.Errorf("%w: %q", ErrInvalidJobName, name)
	}

	split := len(parts) - timestampParts
	createdAt, err := time.ParseInLocation(jobNameTimeLayout, strings.Join(parts[split:], "-"), time.UTC)
	if err != nil {
		return JobName{}, fmt.Errorf("%w: %q: %v", ErrInvalidJobName, name, err)
	}

	return JobName{
		Slug:      strings.Join(parts[:split], "-"),
		CreatedAt: createdAt,
	}, nil
}

// DisplayDate returns the creation date of the job as YYYY-MM-DD.
func DisplayDate(name string) (string, error) {
	n, err := ParseJobName(name)
	if err != nil {
		return "", err
	}
	return n.DisplayDate(), nil
}

// ChannelName returns the channel name for a job.
func ChannelName(jobName string) string {
	return jobName + ChannelSuffix
}
