package handler

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/awslabs/aws-codepipeline-custom-job-worker/internal/storage"
)

const cursorSeparator = "|"

var errMalformedCursor = errors.New("malformed cursor")

// EncodeJobCursor turns the last job of a page into an opaque token. The token
// is URL safe so it can go straight into a query string.
func EncodeJobCursor(cursor *storage.JobCursor) string {
	raw := strconv.FormatInt(cursor.CreatedAt.UnixMilli(), 10) + cursorSeparator + cursor.JobID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeJobCursor reverses EncodeJobCursor. An empty token selects the first page
// and yields a nil cursor.
func DecodeJobCursor(token string) (*storage.JobCursor, error) {
	if token == "" {
		return nil, nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedCursor, err)
	}

	millis, jobID, found := strings.Cut(string(raw), cursorSeparator)
	if !found {
		return nil, errMalformedCursor
	}

	createdAt, err := strconv.ParseInt(millis, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: created_at: %v", errMalformedCursor, err)
	}
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, fmt.Errorf("%w: job_id: %v", errMalformedCursor, err)
	}

	return &storage.JobCursor{
		CreatedAt: time.UnixMilli(createdAt).UTC(),
		JobID:     jobID,
	}, nil
}
