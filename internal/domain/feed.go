package domain

import (
	"database/sql"
	"strings"
	"time"
)

type Feed struct {
	ID           int64
	Name         string
	URL          string
	Enabled      bool
	PollInterval string // human friendly offset, ie "15 minutes"
	// Tags is a comma separated list applied to every article from this feed
	Tags       sql.NullString
	LastPolled sql.NullTime
	LastStatus sql.NullString
	LastError  sql.NullString
	Created    time.Time
	Modified   time.Time
}

// TagList splits the stored comma separated tags.
func (f *Feed) TagList() []string {
	if !f.Tags.Valid || f.Tags.String == "" {
		return nil
	}
	parts := strings.Split(f.Tags.String, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
