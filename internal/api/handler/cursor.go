package handler

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/jobstatus/internal/index"
)

// DecodeJobCursor parses a listing cursor. An empty string is the first page.
func DecodeJobCursor(cursorStr string) (*index.JobCursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor encoding: %w", err)
	}

	createdAt, jobName, ok := strings.Cut(string(decoded), "|")
	if !ok || jobName == "" {
		return nil, fmt.Errorf("invalid cursor format")
	}

	cursor := &index.JobCursor{JobName: jobName}
	// jobs without a parseable creation time sort last and carry no timestamp
	if createdAt == "" {
		return cursor, nil
	}

	nanos, err := strconv.ParseInt(createdAt, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid createdAt in cursor: %w", err)
	}
	cursor.CreatedAt = time.Unix(0, nanos).UTC()
	return cursor, nil
}

// EncodeJobCursor renders cursor for the next_cursor field
func EncodeJobCursor(cursor *index.JobCursor) string {
	var cs string
	if cursor.CreatedAt.IsZero() {
		cs = "|" + cursor.JobName
	} else {
		cs = fmt.Sprintf("%d|%s", cursor.CreatedAt.UnixNano(), cursor.JobName)
	}
	return base64.RawURLEncoding.EncodeToString([]byte(cs))
}
