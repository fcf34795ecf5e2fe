package domain

import "strings"

// Labels for statuses that never appear in a channel as written by a worker
const (
	PendingLabel             = "Pending"
	ErrorLabel               = "Error"
	FinishedLabel            = "Job finished."
	RunningUnavailableLabel  = "Running, detail unavailable"
	notifiedPrefix           = "Done ("
	notifiedSuffix           = ") - email sent."
	runningMarker            = "Running"
	detailSeparator          = ":"
	completeLabelForMatching = "Complete!"
	failedLabelForMatching   = "Failed"
)

// Status is the interpreted state of a job. Channel messages and stored
// sentinels are plain strings; ParseStatus and String convert at that boundary.
type Status struct {
	Code Code
	// Detail holds free-form text: the running detail, the URL, an unknown
	// message, or the suffix of a terminal message.
	Detail string
	// DetailUnavailable marks a running message without a detail segment.
	DetailUnavailable bool
	// Notified marks a terminal status for which the owner has been emailed.
	Notified bool
}

// NewStatus returns a status for code without detail.
func NewStatus(code Code) Status {
	return Status{Code: code}
}

// ParseStatus interprets a raw channel message.
func ParseStatus(raw string) Status {
	msg := strings.TrimSpace(raw)

	if strings.HasPrefix(msg, notifiedPrefix) && strings.HasSuffix(msg, notifiedSuffix) {
		inner := msg[len(notifiedPrefix) : len(msg)-len(notifiedSuffix)]
		s := ParseStatus(inner)
		s.Notified = true
		return s
	}

	if IsURL(msg) {
		return Status{Code: CodeURL, Detail: msg}
	}

	if code, ok := codeForLabel(msg); ok {
		if code == CodeRunning {
			return Status{Code: CodeRunning, DetailUnavailable: true}
		}
		return Status{Code: code}
	}

	switch {
	case strings.Contains(msg, runningMarker):
		_, detail, found := strings.Cut(msg, detailSeparator)
		detail = strings.TrimSpace(detail)
		if !found || detail == "" {
			return Status{Code: CodeRunning, DetailUnavailable: true}
		}
		return Status{Code: CodeRunning, Detail: detail}
	case strings.HasPrefix(msg, completeLabelForMatching):
		return Status{Code: CodeComplete, Detail: trimDetail(msg[len(completeLabelForMatching):])}
	case strings.HasPrefix(msg, failedLabelForMatching):
		return Status{Code: CodeFailed, Detail: trimDetail(msg[len(failedLabelForMatching):])}
	case msg == PendingLabel:
		return Status{Code: CodePending}
	case msg == ErrorLabel:
		return Status{Code: CodeError}
	case strings.HasPrefix(msg, FinishedLabel):
		return Status{Code: CodeFinished, Detail: trimDetail(msg[len(FinishedLabel):])}
	}

	return Status{Code: CodeUnknown, Detail: msg}
}

func trimDetail(s string) string {
	return strings.TrimSpace(strings.TrimLeft(s, ":. "))
}

// String renders the status in its wire form, the inverse of ParseStatus.
func (s Status) String() string {
	inner := s.wire()
	if s.Notified {
		return notifiedPrefix + inner + notifiedSuffix
	}
	return inner
}

func (s Status) wire() string {
	switch s.Code {
	case CodeURL, CodeUnknown:
		return s.Detail
	case CodeRunning:
		if s.Detail == "" {
			return LabelOf(CodeRunning)
		}
		return runningMarker + detailSeparator + " " + s.Detail
	case CodePending:
		return PendingLabel
	case CodeError:
		return ErrorLabel
	case CodeFinished:
		return joinDetail(FinishedLabel, s.Detail)
	}
	return joinDetail(LabelOf(s.Code), s.Detail)
}

func joinDetail(label, detail string) string {
	if detail == "" {
		return label
	}
	if strings.HasSuffix(label, ".") {
		return label + " " + detail
	}
	return label + detailSeparator + " " + detail
}

// Label is the text shown to the job owner.
func (s Status) Label() string {
	switch s.Code {
	case CodeRunning:
		if s.DetailUnavailable || s.Detail == "" {
			return RunningUnavailableLabel
		}
		return s.Detail
	case CodeURL, CodeUnknown:
		return s.Detail
	}
	return s.wire()
}

// Progress returns the coarse progress percentage for the status.
func (s Status) Progress() int {
	switch s.Code {
	case CodeURL:
		return URLProgress
	case CodeUnknown:
		return ProgressFromMessage(s.Detail)
	}
	return ProgressOf(s.Code)
}

// IsFailure reports whether the status belongs to the failed family.
func (s Status) IsFailure() bool {
	switch s.Code {
	case CodeFailed, CodeFailedDownload, CodeFailedSubmission:
		return true
	}
	return false
}

// IsTerminal reports whether no further meaningful change is expected.
func (s Status) IsTerminal() bool {
	switch s.Code {
	case CodeComplete, CodeDownloadComplete, CodeFinished:
		return true
	}
	return s.IsFailure()
}

// NotifiesUser reports whether reaching this status should email the owner.
// Download-only completions and already notified statuses do not.
func (s Status) NotifiesUser() bool {
	if s.Notified {
		return false
	}
	return s.Code == CodeComplete || s.IsFailure()
}

// AsNotified returns a copy of s carrying the email-sent marker.
func (s Status) AsNotified() Status {
	s.Notified = true
	return s
}
