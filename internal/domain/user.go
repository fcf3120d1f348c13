package domain

import (
	"database/sql"
	"strings"
)

// User group names carried in auth tokens. Admins implicitly hold every group.
const (
	GroupAnalysts = "Analysts"
	GroupAdmins   = "Admins"
)

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Password string `json:"-"`
	// Groups is a comma separated list, ie "Analysts,Admins"
	Groups     string         `json:"groups"`
	ApiKey     sql.NullString `json:"apiKey"`
	RetryCount sql.NullInt32  `json:"retryCount"`
	Created    sql.NullTime   `json:"created"`
	Enabled    sql.NullBool   `json:"enabled"`
}

// GroupList splits the stored comma separated groups.
func (u *User) GroupList() []string {
	if u.Groups == "" {
		return nil
	}
	parts := strings.Split(u.Groups, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if g := strings.TrimSpace(p); g != "" {
			out = append(out, g)
		}
	}
	return out
}

// HasGroup reports whether the user holds the given group. Admins hold all groups.
func (u *User) HasGroup(group string) bool {
	for _, g := range u.GroupList() {
		if g == group || g == GroupAdmins {
			return true
		}
	}
	return false
}
