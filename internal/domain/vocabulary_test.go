package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgressFromMessage_MatchesVocabulary(t *testing.T) {
	for _, code := range Codes() {
		t.Run(string(code), func(t *testing.T) {
			assert.Equal(t, ProgressOf(code), ProgressFromMessage(LabelOf(code)))
		})
	}
}

func TestProgressFromMessage(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    int
	}{
		{name: "https url", message: "https://example.org/x", want: URLProgress},
		{name: "http url with trailing text", message: "http://example.org/results.h5ad?token=abc ready", want: URLProgress},
		{name: "uppercase scheme", message: "HTTPS://EXAMPLE.ORG", want: URLProgress},
		{name: "unknown message", message: "totally-unknown-string", want: DefaultProgress},
		{name: "empty message", message: "", want: URLProgress},
		{name: "queued", message: "Queued.", want: 1},
		{name: "cleaning", message: "Cleaning up.", want: 80},
		{name: "label without trailing dot", message: "Queued", want: DefaultProgress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ProgressFromMessage(tt.message))
		})
	}
}

func TestProgressOf(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{code: CodeQueued, want: 1},
		{code: CodeSubmitted, want: 30},
		{code: CodeFailedDownload, want: 100},
		{code: CodeFailed, want: 100},
		{code: CodeFinished, want: 100},
		{code: CodePending, want: DefaultProgress},
		{code: CodeError, want: DefaultProgress},
		{code: Code("NOT_A_CODE"), want: DefaultProgress},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, ProgressOf(tt.code))
		})
	}
}

func TestProgressNonDecreasingAlongNormalRun(t *testing.T) {
	run := []Code{
		CodeQueued,
		CodeSubmittingDownload,
		CodeDownloading,
		CodeFinishedDownload,
		CodeSubmitted,
		CodeRunning,
		CodeCleaning,
		CodeComplete,
	}

	for i := 1; i < len(run); i++ {
		assert.GreaterOrEqual(t, ProgressOf(run[i]), ProgressOf(run[i-1]),
			"%s should not report less progress than %s", run[i], run[i-1])
	}
}

func TestLabelOf(t *testing.T) {
	assert.Equal(t, "Finished downloading, ready to run.", LabelOf(CodeFinishedDownload))
	assert.Equal(t, "Complete!", LabelOf(CodeComplete))
	assert.Empty(t, LabelOf(CodePending))
}
