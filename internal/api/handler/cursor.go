package handler

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/dispatch-be/internal/dispatch/store"
)

var errBadCursor = errors.New("invalid cursor format")

// DecodeJobCursor parses the opaque "<unixnano>|<job id>" page token.
// An empty token means the first page.
func DecodeJobCursor(token string) (*store.JobCursor, error) {
	if token == "" {
		return nil, nil
	}

	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, errBadCursor
	}

	nanos, jobID, ok := strings.Cut(string(raw), "|")
	if !ok || jobID == "" {
		return nil, errBadCursor
	}
	ts, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid created_at in cursor: %w", err)
	}

	return &store.JobCursor{CreatedAt: time.Unix(0, ts).UTC(), JobID: jobID}, nil
}

// EncodeJobCursor is the inverse of DecodeJobCursor; nil encodes as "".
func EncodeJobCursor(c *store.JobCursor) string {
	if c == nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(
		[]byte(strconv.FormatInt(c.CreatedAt.UnixNano(), 10) + "|" + c.JobID),
	)
}
