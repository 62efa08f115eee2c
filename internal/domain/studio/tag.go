package studio

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Tag struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerUserID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_tag_owner_name" json:"owner_user_id"`
	Name        string    `gorm:"column:name;not null" json:"name"`
	NameKey     string    `gorm:"column:name_key;not null;uniqueIndex:idx_tag_owner_name" json:"-"`
	Color       string    `gorm:"column:color;not null" json:"color"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null" json:"updated_at"`
}

func (Tag) TableName() string { return "tag" }

func (t *Tag) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.NameKey = TagNameKey(t.Name)
	return nil
}

// TagNameKey is the case-insensitive uniqueness key for tag names.
func TagNameKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
