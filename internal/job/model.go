package job

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

type Status string

const (
	StatusPosted     Status = "posted"
	StatusMatched    Status = "matched"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Broadcasting phases.
const (
	PhaseUnassigned   = 0
	PhaseCategorizing = 1
	PhaseBidding      = 2
)

type Job struct {
	ID         string `gorm:"primaryKey;size:26" json:"id"` // ULID
	CustomerID uint64 `gorm:"not null;index" json:"customer_id"`
	CategoryID uint64 `gorm:"not null;index" json:"category_id"`

	// SubcategoryID is set on a clear categorization win (or when the
	// category has no children). TiedSubcategoryIDs holds the full set on
	// a majority-level tie. Either being set means the job is categorized
	// and implies BroadcastingPhase >= PhaseBidding.
	SubcategoryID      *uint64        `gorm:"index" json:"subcategory_id,omitempty"`
	TiedSubcategoryIDs datatypes.JSON `gorm:"type:json" json:"tied_subcategory_ids,omitempty"`

	Status            Status `gorm:"type:varchar(16);not null;index" json:"status"`
	BroadcastingPhase int    `gorm:"not null;default:0" json:"broadcasting_phase"`

	// Frozen at assignment: the ids and the realized size of the
	// categorizer group. Never mutated afterwards.
	CategorizerIDs       datatypes.JSON `gorm:"type:json" json:"categorizer_ids,omitempty"`
	CategorizerGroupSize int            `gorm:"not null;default:0" json:"categorizer_group_size"`

	WorkerID *uint64 `gorm:"index" json:"worker_id,omitempty"`

	// Originating service chat.
	ChatID uint64 `gorm:"not null;index" json:"chat_id"`

	OnboardingCode *string `gorm:"type:varchar(8)" json:"-"`
	CompletionCode *string `gorm:"type:varchar(8)" json:"-"`
	WorkCode       string  `gorm:"type:varchar(8);not null" json:"work_code"`

	PriceFloor    int64          `gorm:"not null;default:0" json:"price_floor"`
	Location      string         `gorm:"type:varchar(255)" json:"location"`
	VoiceURL      string         `gorm:"type:varchar(512)" json:"voice_url"`
	ScheduledDate string         `gorm:"type:varchar(16)" json:"scheduled_date"`
	Photos        datatypes.JSON `gorm:"type:json" json:"photos,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Job) TableName() string { return "jobs" }

// Categorized reports whether categorization has resolved, either to a
// single subcategory or to a tied set.
func (j *Job) Categorized() bool {
	if j.SubcategoryID != nil {
		return true
	}
	return len(j.TiedSet()) > 0
}

func (j *Job) CategorizerSet() []uint64 {
	return decodeIDs(j.CategorizerIDs)
}

func (j *Job) TiedSet() []uint64 {
	return decodeIDs(j.TiedSubcategoryIDs)
}

func (j *Job) HasCategorizer(workerID uint64) bool {
	for _, id := range j.CategorizerSet() {
		if id == workerID {
			return true
		}
	}
	return false
}

func decodeIDs(raw datatypes.JSON) []uint64 {
	if len(raw) == 0 {
		return nil
	}
	var ids []uint64
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil
	}
	return ids
}

// encodeStrings always yields a JSON array, so "no photos" round-trips
// as [] rather than null.
func encodeStrings(ss []string) (datatypes.JSON, error) {
	if ss == nil {
		ss = []string{}
	}
	b, err := json.Marshal(ss)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

func encodeIDs(ids []uint64) datatypes.JSON {
	b, err := json.Marshal(ids)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

// Vote is one categorizer's subcategory suggestion. The unique index on
// (job_id, worker_id) makes re-votes impossible at the storage layer.
type Vote struct {
	ID            uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	JobID         string    `gorm:"size:26;not null;index:uniq_vote_job_worker,unique,priority:1" json:"job_id"`
	WorkerID      uint64    `gorm:"not null;index:uniq_vote_job_worker,unique,priority:2" json:"worker_id"`
	SubcategoryID uint64    `gorm:"not null;index" json:"subcategory_id"`
	CreatedAt     time.Time `json:"created_at"`
}

func (Vote) TableName() string { return "categorization_votes" }

type BidStatus string

const (
	BidPending  BidStatus = "pending"
	BidAccepted BidStatus = "accepted"
	BidRejected BidStatus = "rejected"
)

type Bid struct {
	ID       string `gorm:"primaryKey;size:26" json:"id"` // ULID
	JobID    string `gorm:"size:26;not null;index:uniq_bid_job_worker,unique,priority:1" json:"job_id"`
	WorkerID uint64 `gorm:"not null;index:uniq_bid_job_worker,unique,priority:2" json:"worker_id"`

	Amount        int64 `gorm:"not null" json:"amount"`
	EquipmentCost int64 `gorm:"not null;default:0" json:"equipment_cost"`
	ServiceFee    int64 `gorm:"not null" json:"service_fee"`
	TotalAmount   int64 `gorm:"not null" json:"total_amount"`

	Status BidStatus `gorm:"type:varchar(16);not null;index" json:"status"`

	ExpiresAt time.Time `gorm:"not null;index" json:"expires_at"`
	// Display hint only: early bids are highlighted inside this window,
	// nothing is enforced against it.
	PriorityWindowEnd time.Time `gorm:"not null" json:"priority_window_end"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Bid) TableName() string { return "bids" }

type CancellationLog struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	JobID       string    `gorm:"size:26;not null;index" json:"job_id"`
	CancelledBy uint64    `gorm:"not null" json:"cancelled_by"`
	Phase       int       `gorm:"not null" json:"phase"`
	FromStatus  Status    `gorm:"type:varchar(16);not null" json:"from_status"`
	Reason      string    `gorm:"type:varchar(255)" json:"reason"`
	CreatedAt   time.Time `json:"created_at"`
}

func (CancellationLog) TableName() string { return "job_cancellations" }

type Rating struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	JobID   string `gorm:"size:26;not null;index:uniq_rating_job_rater,unique,priority:1" json:"job_id"`
	RaterID uint64 `gorm:"not null;index:uniq_rating_job_rater,unique,priority:2" json:"rater_id"`
	RateeID uint64 `gorm:"not null" json:"ratee_id"`
	Stars   int    `gorm:"not null" json:"stars"`
	Comment string `gorm:"type:text" json:"comment"`

	CreatedAt time.Time `json:"created_at"`
}

func (Rating) TableName() string { return "job_ratings" }
