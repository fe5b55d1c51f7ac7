package chat

import (
	"time"

	"gorm.io/datatypes"
)

// Chat is a conversation container. Topology is derived from which
// references are set:
//   - service chat: CustomerID only (customer talking to the platform
//     about one category)
//   - notification chat: WorkerID only (broadcast target for new jobs)
//   - conversation chat: CustomerID + WorkerID + JobID (created by
//     converting a notification chat in place on bid acceptance)
type Chat struct {
	ID         uint64  `gorm:"primaryKey;autoIncrement" json:"id"`
	CategoryID uint64  `gorm:"not null;index" json:"category_id"`
	CustomerID *uint64 `gorm:"index" json:"customer_id,omitempty"`
	WorkerID   *uint64 `gorm:"index" json:"worker_id,omitempty"`
	JobID      *string `gorm:"type:varchar(26);index" json:"job_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Chat) TableName() string { return "chats" }

func (c *Chat) IsService() bool      { return c.CustomerID != nil && c.WorkerID == nil }
func (c *Chat) IsNotification() bool { return c.WorkerID != nil && c.CustomerID == nil }
func (c *Chat) IsConversation() bool { return c.CustomerID != nil && c.WorkerID != nil }

// Partition tracks message volume for one chat and one calendar month.
// MessageCount must stay in lockstep with the message rows; the row is
// deleted when the count reaches zero, and its absence is the signal used
// elsewhere for "no messages in this window".
type Partition struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	ChatID       uint64    `gorm:"not null;index:uniq_chat_month,unique,priority:1" json:"chat_id"`
	YearMonth    string    `gorm:"type:varchar(7);not null;index:uniq_chat_month,unique,priority:2" json:"year_month"`
	MessageCount int64     `gorm:"not null;default:0" json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Partition) TableName() string { return "chat_partitions" }

type Message struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	ChatID    uint64 `gorm:"not null;index:idx_msg_chat_month,priority:1" json:"chat_id"`
	YearMonth string `gorm:"type:varchar(7);not null;index:idx_msg_chat_month,priority:2" json:"year_month"`

	// Nil sender means the platform produced the message.
	SenderID *uint64 `gorm:"index" json:"sender_id,omitempty"`

	// JobID links bubbles that represent job state (job, worker_job, bid,
	// code inputs, rating requests) so cancellation can find them across
	// chats.
	JobID *string `gorm:"type:varchar(26);index" json:"job_id,omitempty"`

	Bubble   BubbleType     `gorm:"type:varchar(32);not null;index" json:"bubble"`
	Content  string         `gorm:"type:text;not null" json:"content"`
	Metadata datatypes.JSON `gorm:"type:json" json:"metadata,omitempty"`

	// System-generated copies of user bubble types (voice prompts, date
	// suggestions) must not satisfy job-creation requirements.
	IsSystemGenerated bool `gorm:"not null;default:false" json:"is_system_generated"`

	Expired   bool `gorm:"not null;default:false;index" json:"expired"`
	Delivered bool `gorm:"not null;default:false" json:"delivered"`
	Read      bool `gorm:"not null;default:false" json:"read"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Message) TableName() string { return "chat_messages" }

// YearMonthOf formats the partition key for a point in time.
func YearMonthOf(t time.Time) string { return t.Format("2006-01") }
