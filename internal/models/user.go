package models

import "time"

// User is the durable identity record. Counters are denormalized and
// mutated only inside the transactions that own them (see repository/follow.go).
type User struct {
	ID             int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Username       string    `json:"username" gorm:"uniqueIndex;not null"`
	Email          string    `json:"email" gorm:"uniqueIndex;not null"`
	PasswordHash   string    `json:"-" gorm:"not null"`
	FollowerCount  int64     `json:"follower_count" gorm:"not null;default:0"`
	FollowingCount int64     `json:"following_count" gorm:"not null;default:0"`
	IsCelebrity    bool      `json:"is_celebrity" gorm:"not null;default:false"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// Follow is a directed edge; self-follow is rejected by the repository layer,
// never by a database constraint, so the error kind stays InvalidArgument.
type Follow struct {
	ID          int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	FollowerID  int64     `json:"follower_id" gorm:"not null;uniqueIndex:idx_follow_edge"`
	FollowingID int64     `json:"following_id" gorm:"not null;uniqueIndex:idx_follow_edge"`
	CreatedAt   time.Time `json:"created_at"`
}

func (Follow) TableName() string {
	return "follows"
}
