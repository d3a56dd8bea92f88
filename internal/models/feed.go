package models

import "time"

// Post is immutable once committed. Score in the timeline cache equals
// CreatedAt expressed as float64 Unix milliseconds; no separate ranking
// field is stored here since personalized ranking is a non-goal.
type Post struct {
	ID        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	AuthorID  int64     `json:"author_id" gorm:"not null;index"`
	Content   string    `json:"content" gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`

	Author User `json:"-" gorm:"foreignKey:AuthorID"`
}

func (Post) TableName() string {
	return "posts"
}

// Score returns the timeline-cache ordering key for this post.
func (p Post) Score() float64 {
	return float64(p.CreatedAt.UnixMilli())
}
