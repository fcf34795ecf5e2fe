package domain

import "strings"

// Code identifies a canonical job status.
type Code string

// Status codes written to job channels by the compute workers
const (
	CodeQueued             Code = "QUEUED"
	CodeSubmittingDownload Code = "SUBMITDOWNLOAD"
	CodeDownloading        Code = "DOWNLOADING"
	CodeFinishedDownload   Code = "FINISHDOWNLOAD"
	CodeFailedDownload     Code = "FAILEDDOWNLOAD"
	CodeSubmitted          Code = "SUBMITTED"
	CodeFailedSubmission   Code = "FAILEDSUBMISSION"
	CodeRunning            Code = "RUNNING"
	CodeCleaning           Code = "CLEANING"
	CodeDownloadComplete   Code = "DOWNLOADCOMPLETE"
	CodeComplete           Code = "COMPLETE"
	CodeFailed             Code = "FAILED"
	CodeURL                Code = "URL"
)

// Synthetic codes produced by the status reader, never written by workers
const (
	CodePending  Code = "PENDING"
	CodeError    Code = "ERROR"
	CodeFinished Code = "FINISHED"
	CodeUnknown  Code = "UNKNOWN"
)

const (
	// URLProgress is reported for jobs that have published an intermediate result link
	URLProgress = 50
	// DefaultProgress is reported for messages that match no vocabulary entry
	DefaultProgress = 50
)

type vocabularyEntry struct {
	code     Code
	label    string
	progress int
}

// vocabulary is ordered by the position of each status in a normal run.
var vocabulary = []vocabularyEntry{
	{CodeQueued, "Queued.", 1},
	{CodeSubmittingDownload, "Submitting download job", 10},
	{CodeDownloading, "Downloading.", 15},
	{CodeFinishedDownload, "Finished downloading, ready to run.", 25},
	{CodeFailedDownload, "Failed download.", 100},
	{CodeSubmitted, "Submitted.", 30},
	{CodeFailedSubmission, "Failed submission.", 100},
	{CodeRunning, "Running.", 50},
	{CodeCleaning, "Cleaning up.", 80},
	{CodeDownloadComplete, "Download complete!", 100},
	{CodeComplete, "Complete!", 100},
	{CodeFailed, "Failed", 100},
	{CodeURL, "", URLProgress},
}

// Codes returns every worker-facing status code in vocabulary order.
func Codes() []Code {
	codes := make([]Code, len(vocabulary))
	for i, e := range vocabulary {
		codes[i] = e.code
	}
	return codes
}

func lookup(code Code) (vocabularyEntry, bool) {
	for _, e := range vocabulary {
		if e.code == code {
			return e, true
		}
	}
	return vocabularyEntry{}, false
}

// LabelOf returns the canonical label for code, or "" for codes outside the vocabulary.
func LabelOf(code Code) string {
	e, _ := lookup(code)
	return e.label
}

// ProgressOf returns the progress percentage for code. Synthetic codes map to
// DefaultProgress except Finished, which is 100.
func ProgressOf(code Code) int {
	if e, ok := lookup(code); ok {
		return e.progress
	}
	if code == CodeFinished {
		return 100
	}
	return DefaultProgress
}

// ProgressFromMessage maps a raw channel message to a progress value.
// Unknown messages never fail; they report DefaultProgress.
func ProgressFromMessage(message string) int {
	if IsURL(message) {
		return URLProgress
	}
	for _, e := range vocabulary {
		if message == e.label {
			return e.progress
		}
	}
	return DefaultProgress
}

// IsURL reports whether message starts with an http or https scheme.
func IsURL(message string) bool {
	lower := strings.ToLower(message)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func codeForLabel(label string) (Code, bool) {
	if label == "" {
		return "", false
	}
	for _, e := range vocabulary {
		if e.label == label {
			return e.code, true
		}
	}
	return "", false
}
