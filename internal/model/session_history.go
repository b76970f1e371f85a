package model

import "time"

type SessionRecord struct {
	ID          string    `db:"id" json:"id"`
	UserID      string    `db:"user_id" json:"userId"`
	CompanionID string    `db:"companion_id" json:"companionId"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}
