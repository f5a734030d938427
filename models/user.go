package models

import (
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/CUknot/yolo_backend/codec"
)

// User owns the categorised event sets, the chats the user belongs to and the
// friend and block sets. Each
// collection column holds a codec-encoded list; Version is bumped on every
// write to those columns.
type User struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Username       string    `gorm:"size:255;not null;uniqueIndex" json:"username"`
	Email          string    `gorm:"size:255;not null;unique" json:"email"`
	Password       string    `gorm:"size:255;not null" json:"-"`
	ProfilePic     string    `gorm:"size:255" json:"profile_pic"`
	PendingEvents  string    `gorm:"type:text;not null;default:'[]'" json:"-"`
	AcceptedEvents string    `gorm:"type:text;not null;default:'[]'" json:"-"`
	RejectedEvents string    `gorm:"type:text;not null;default:'[]'" json:"-"`
	FriendRequests string    `gorm:"type:text;not null;default:'[]'" json:"-"`
	Friends        string    `gorm:"type:text;not null;default:'[]'" json:"-"`
	Chats          string    `gorm:"type:text;not null;default:'[]'" json:"-"`
	BlockedUsers   string    `gorm:"type:text;not null;default:'[]'" json:"-"`
	BlockedBy      string    `gorm:"type:text;not null;default:'[]'" json:"-"`
	Version        int64     `gorm:"not null;default:0" json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// BeforeCreate hashes the password and starts every collection empty.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	for _, col := range []*string{&u.PendingEvents, &u.AcceptedEvents, &u.RejectedEvents, &u.FriendRequests, &u.Friends, &u.Chats, &u.BlockedUsers, &u.BlockedBy} {
		if *col == "" {
			*col = codec.Empty
		}
	}
	return u.hashPassword()
}

func (u *User) hashPassword() error {
	if u.Password != "" {
		hashedPassword, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		u.Password = string(hashedPassword)
	}
	return nil
}

// ValidatePassword checks if the provided password matches the stored hash
func (u *User) ValidatePassword(password string) error {
	return bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password))
}
