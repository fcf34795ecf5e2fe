// Package jobstatus derives the current status of a job from its channel.
package jobstatus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/jobstatus/internal/channel"
	"github.com/cuongbtq/jobstatus/internal/domain"
)

const (
	DefaultSoftLimit = 14 * 24 * time.Hour
	DefaultHardLimit = 30 * 24 * time.Hour

	// readTimeoutMargin is added to the channel long-poll wait to bound a read
	readTimeoutMargin = 5 * time.Second

	// UpdatedLayout formats the last update time shown to users
	UpdatedLayout = "01-02-06 15:04:05"
)

// ChannelReader reads the newest message of a job channel.
type ChannelReader interface {
	ReadLatest(ctx context.Context, jobName string) (*channel.Latest, error)
}

// Config holds status reader configuration
type Config struct {
	Logger      *slog.Logger
	Channels    ChannelReader
	Now         func() time.Time
	SoftLimit   time.Duration
	HardLimit   time.Duration
	ReadTimeout time.Duration
}

// Reader determines the current status of jobs. It keeps no state between calls.
type Reader struct {
	logger      *slog.Logger
	channels    ChannelReader
	now         func() time.Time
	softLimit   time.Duration
	hardLimit   time.Duration
	readTimeout time.Duration
}

// Result is the interpreted status of one job.
type Result struct {
	JobName     string
	Status      domain.Status
	Progress    int
	Raw         string
	LastUpdated time.Time
	// Updated is the user-facing last update text: a formatted time, or an
	// age note for synthetic statuses
	Updated string
}

// Label is the user-facing status text.
func (r Result) Label() string {
	return r.Status.Label()
}

// NewReader creates a new status reader
func NewReader(cfg *Config) *Reader {
	r := &Reader{
		logger:      cfg.Logger,
		channels:    cfg.Channels,
		now:         cfg.Now,
		softLimit:   cfg.SoftLimit,
		hardLimit:   cfg.HardLimit,
		readTimeout: cfg.ReadTimeout,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.softLimit <= 0 {
		r.softLimit = DefaultSoftLimit
	}
	if r.hardLimit <= 0 {
		r.hardLimit = DefaultHardLimit
	}
	if r.readTimeout <= 0 {
		r.readTimeout = channel.DefaultReceiveWait + readTimeoutMargin
	}
	return r
}

// ReadTimeoutFor returns the per-read timeout matching a channel long-poll wait.
func ReadTimeoutFor(wait time.Duration) time.Duration {
	return wait + readTimeoutMargin
}

// Read returns the current status of jobName. It never fails: missing
// channels, expired messages and transport errors map to synthetic statuses.
func (r *Reader) Read(ctx context.Context, jobName string) Result {
	// Jobs past the hard limit have no retrievable messages left
	if name, err := domain.ParseJobName(jobName); err == nil {
		if r.now().Sub(name.CreatedAt) > r.hardLimit {
			return r.finished(jobName, r.hardLimit)
		}
	} else {
		r.logger.Debug("Job name carries no timestamp, skipping age check",
			slog.String("job", jobName),
		)
	}

	readCtx, cancel := context.WithTimeout(ctx, r.readTimeout)
	defer cancel()

	latest, err := r.channels.ReadLatest(readCtx, jobName)
	switch {
	case errors.Is(err, channel.ErrChannelNotFound):
		return r.synthetic(jobName, domain.NewStatus(domain.CodePending), "")
	case errors.Is(err, channel.ErrNoMessages):
		return r.finished(jobName, r.softLimit)
	case err != nil:
		r.logger.Warn("Failed to read job channel",
			slog.String("job", jobName),
			slog.String("error", err.Error()),
		)
		return r.synthetic(jobName, domain.NewStatus(domain.CodeError), "")
	}

	result := Result{
		JobName:     jobName,
		Status:      latest.Status,
		Progress:    latest.Status.Progress(),
		Raw:         latest.Body,
		LastUpdated: latest.SentAt,
	}
	if !latest.SentAt.IsZero() {
		result.Updated = latest.SentAt.Format(UpdatedLayout)
	}
	return result
}

func (r *Reader) finished(jobName string, limit time.Duration) Result {
	ago := fmt.Sprintf("More than %d days ago.", int(limit.Hours()/24))
	return r.synthetic(jobName, domain.NewStatus(domain.CodeFinished), ago)
}

func (r *Reader) synthetic(jobName string, status domain.Status, updated string) Result {
	return Result{
		JobName:  jobName,
		Status:   status,
		Progress: status.Progress(),
		Raw:      status.String(),
		Updated:  updated,
	}
}
