package domain

import "time"

type Comment struct {
	ID        int64  `json:"id"`
	ArticleID int64  `json:"articleId"`
	Author    string `json:"author"`
	Body      string `json:"body"`
	Created   time.Time `json:"created"`
}
