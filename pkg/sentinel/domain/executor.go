package domain

import "time"

type Executor struct {
	ID         int64     // BIGSERIAL
	Name       string    // TEXT
	Group      string    // TEXT, executor group this instance polls for
	Started    time.Time // TIMESTAMP
	LastActive time.Time // TIMESTAMP
}
