package model

import (
	"time"

	"github.com/google/uuid"
)

type Guest struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey"`
	FullName    string     `gorm:"size:200;not null;index"`
	Role        string     `gorm:"size:150;not null"`
	PhotoRef    string     `gorm:"size:255;not null;default:''"`
	Token       string     `gorm:"size:100;uniqueIndex;not null"`
	QRImageRef  string     `gorm:"size:255;not null;default:''"`
	State       string     `gorm:"size:16;not null;default:'not_arrived';index"`
	ArrivedAt   *time.Time `gorm:"type:timestamptz;check:chk_guests_arrival,(state = 'arrived') = (arrived_at IS NOT NULL)"`
	CheckedInBy string     `gorm:"size:100;not null;default:''"`
	CreatedAt   time.Time  `gorm:"not null"`
	UpdatedAt   time.Time  `gorm:"not null"`
}

type Operator struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Username     string    `gorm:"size:64;uniqueIndex;not null"`
	PasswordHash []byte    `gorm:"not null"`
	Capabilities string    `gorm:"size:255;not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}
