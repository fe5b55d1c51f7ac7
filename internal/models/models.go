package models

import "time"

type Role string

const (
	RoleCustomer Role = "customer"
	RoleWorker   Role = "worker"
	RoleAdmin    Role = "admin"
)

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

type User struct {
	ID           uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	Phone        string         `gorm:"type:varchar(32);uniqueIndex;not null" json:"phone"`
	Name         string         `gorm:"type:varchar(64)" json:"name"`
	PasswordHash string         `gorm:"type:varchar(128);not null" json:"-"`
	Role         Role           `gorm:"type:varchar(16);index;not null" json:"role"`
	Approval     ApprovalStatus `gorm:"type:varchar(16);index;not null;default:'pending'" json:"approval"`
	// Balance in minor currency units. Workers must keep it positive to
	// stay eligible for categorizing and bidding.
	Balance   int64     `gorm:"not null;default:0" json:"balance"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (User) TableName() string { return "users" }

// WorkerSkill links a worker to a category they can serve. Expert marks
// the worker as a designated expert categorizer for that category.
type WorkerSkill struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	WorkerID   uint64    `gorm:"not null;index:uniq_worker_category,unique,priority:1" json:"worker_id"`
	CategoryID uint64    `gorm:"not null;index:uniq_worker_category,unique,priority:2;index" json:"category_id"`
	Expert     bool      `gorm:"not null;default:false" json:"expert"`
	CreatedAt  time.Time `json:"created_at"`
}

func (WorkerSkill) TableName() string { return "worker_skills" }

// Category is a node in the two-level service tree. Subcategories carry a
// ParentID; pricing floor fields are optional and only consulted when both
// are set.
type Category struct {
	ID       uint64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Name     string  `gorm:"type:varchar(64);not null" json:"name"`
	ParentID *uint64 `gorm:"index" json:"parent_id,omitempty"`

	BaselinePrice *int64 `json:"baseline_price,omitempty"`
	MinPercent    *int   `json:"min_percent,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Category) TableName() string { return "categories" }

// AppSetting is a runtime-mutable configuration row, cached in redis by
// the settings service.
type AppSetting struct {
	Key       string    `gorm:"primaryKey;type:varchar(64)" json:"key"`
	Value     string    `gorm:"type:varchar(255);not null" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (AppSetting) TableName() string { return "app_settings" }
