package chat

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

type BubbleType string

const (
	BubbleText                BubbleType = "text"
	BubbleVoice               BubbleType = "voice"
	BubblePhoto               BubbleType = "photo"
	BubbleConfirmation        BubbleType = "confirmation"
	BubbleDate                BubbleType = "date"
	BubbleSystemInstruction   BubbleType = "system_instruction"
	BubbleSystemPrompt        BubbleType = "system_prompt"
	BubbleSystemNotification  BubbleType = "system_notification"
	BubbleLoading             BubbleType = "loading"
	BubbleJob                 BubbleType = "job"
	BubbleWorkerJob           BubbleType = "worker_job"
	BubbleBid                 BubbleType = "bid"
	BubbleRatingRequest       BubbleType = "rating_request"
	BubbleOnboardingCodeInput BubbleType = "onboarding_code_input"
	BubbleCompletionCodeInput BubbleType = "completion_code_input"
)

// JobData rides on job and worker_job bubbles. Vote fields are live
// progress for the categorizer who owns the bubble and are refreshed on
// every vote submission.
type JobData struct {
	JobID         string  `json:"job_id"`
	CategoryID    uint64  `json:"category_id"`
	SubcategoryID *uint64 `json:"subcategory_id,omitempty"`
	Status        string  `json:"status"`
	Phase         int     `json:"phase"`
	Location      string  `json:"location,omitempty"`
	PriceFloor    int64   `json:"price_floor,omitempty"`

	MyVote        *uint64          `json:"my_vote,omitempty"`
	VoteCounts    map[string]int   `json:"vote_counts,omitempty"`
	VotesCast     int              `json:"votes_cast,omitempty"`
	VoteThreshold int              `json:"vote_threshold,omitempty"`
	Decided       bool             `json:"decided,omitempty"`
	WinnerIDs     []uint64         `json:"winner_ids,omitempty"`
}

type BidData struct {
	BidID             string    `json:"bid_id"`
	JobID             string    `json:"job_id"`
	WorkerID          uint64    `json:"worker_id"`
	Amount            int64     `json:"amount"`
	EquipmentCost     int64     `json:"equipment_cost"`
	ServiceFee        int64     `json:"service_fee"`
	TotalAmount       int64     `json:"total_amount"`
	Status            string    `json:"status"`
	ExpiresAt         time.Time `json:"expires_at"`
	PriorityWindowEnd time.Time `json:"priority_window_end"`
}

type RatingData struct {
	JobID     string `json:"job_id"`
	RaterID   uint64 `json:"rater_id"`
	RateeID   uint64 `json:"ratee_id"`
	Submitted bool   `json:"submitted"`
}

type CodeData struct {
	JobID string `json:"job_id"`
	Kind  string `json:"kind"` // "onboarding" or "completion"
}

type DateData struct {
	Date string `json:"date"` // YYYY-MM-DD
}

// Metadata is the per-bubble-type payload union. Exactly one variant is
// populated, matching the bubble type of the carrying message; the rest
// are omitted from the stored JSON.
type Metadata struct {
	Job    *JobData    `json:"job_data,omitempty"`
	Bid    *BidData    `json:"bid_data,omitempty"`
	Rating *RatingData `json:"rating_data,omitempty"`
	Code   *CodeData   `json:"code_data,omitempty"`
	Date   *DateData   `json:"date_data,omitempty"`
}

func (m Metadata) JSON() (datatypes.JSON, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

func DecodeMetadata(raw datatypes.JSON) (Metadata, error) {
	var m Metadata
	if len(raw) == 0 {
		return m, nil
	}
	err := json.Unmarshal(raw, &m)
	return m, err
}
