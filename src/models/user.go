package models

import "time"

// Users are owned by the authentication service; this is the slice of a user
// the publication pipeline needs for authorship and review.
type User struct {
	ID int `db:"id"`

	Username string `db:"username"`
	Name     string `db:"name"`

	DateJoined time.Time `db:"date_joined"`

	IsStaff bool `db:"is_staff"`
	// Validators review and publish content they did not write.
	IsValidator bool `db:"is_validator"`
}

func (u *User) BestName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Username
}
