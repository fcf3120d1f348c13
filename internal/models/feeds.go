package models

import "time"

type FeedRequest struct {
	Name         string   `json:"name"`
	URL          string   `json:"url"`
	Enabled      *bool    `json:"enabled,omitempty"`
	PollInterval string   `json:"pollInterval,omitempty"`
	Tags         []string `json:"tags,omitempty"`
}

type FeedResponse struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	URL          string     `json:"url"`
	Enabled      bool       `json:"enabled"`
	PollInterval string     `json:"pollInterval"`
	Tags         []string   `json:"tags,omitempty"`
	LastPolled   *time.Time `json:"lastPolled,omitempty"`
	LastStatus   string     `json:"lastStatus,omitempty"`
	LastError    string     `json:"lastError,omitempty"`
	Created      time.Time  `json:"created"`
}
