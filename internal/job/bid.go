package job

import (
	"context"
	"errors"
	"fmt"
	"log"

	"gorm.io/gorm"

	"github.com/hirelocal/hirelocal/internal/apperr"
	"github.com/hirelocal/hirelocal/internal/chat"
	"github.com/hirelocal/hirelocal/internal/common"
	"github.com/hirelocal/hirelocal/internal/models"
	"github.com/hirelocal/hirelocal/internal/tasks"
)

type BidInput struct {
	JobID         string
	Amount        int64
	EquipmentCost int64
}

// SubmitBid records a worker's priced offer on a categorized job and
// mirrors it into the customer's service chat.
func (s *Service) SubmitBid(ctx context.Context, workerID uint64, in BidInput) (*Bid, error) {
	j, err := s.getJob(ctx, in.JobID)
	if err != nil {
		return nil, err
	}
	worker, err := s.repo.GetUser(ctx, workerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("worker %d not found", workerID)
		}
		return nil, err
	}
	if worker.Role != models.RoleWorker || worker.Balance <= 0 {
		return nil, apperr.Validation("worker %d is not eligible to bid", workerID)
	}
	if j.Status != StatusPosted {
		return nil, apperr.InvalidTransition("job %s is %s, bids are closed", j.ID, j.Status)
	}
	if !j.Categorized() {
		return nil, apperr.InvalidTransition("job %s is not categorized yet", j.ID)
	}
	already, err := s.repo.HasBid(ctx, j.ID, workerID)
	if err != nil {
		return nil, err
	}
	if already {
		return nil, apperr.AlreadyExists("worker %d already bid on job %s", workerID, j.ID)
	}
	if in.Amount <= 0 {
		return nil, apperr.Validation("bid amount must be positive")
	}
	if err := s.checkPricingFloor(ctx, j, in.Amount); err != nil {
		return nil, err
	}

	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	now := s.now()
	fee := in.Amount * int64(s.cfg.FeePercent) / 100
	b := &Bid{
		ID:                id,
		JobID:             j.ID,
		WorkerID:          workerID,
		Amount:            in.Amount,
		EquipmentCost:     in.EquipmentCost,
		ServiceFee:        fee,
		TotalAmount:       in.Amount + in.EquipmentCost + fee,
		Status:            BidPending,
		ExpiresAt:         now.Add(s.cfg.BidExpiry),
		PriorityWindowEnd: now.Add(s.cfg.PriorityWindow),
	}
	if err := s.repo.CreateBid(ctx, b); err != nil {
		return nil, err
	}

	meta := chat.Metadata{Bid: bidData(b)}
	if _, err := s.chats.PostSystem(ctx, j.ChatID, chat.BubbleBid, "", meta, &j.ID); err != nil {
		log.Printf("bid=%s bubble post failed job=%s err=%v", b.ID, j.ID, err)
	}
	return b, nil
}

// checkPricingFloor validates the amount against the resolved
// subcategory's baseline-price/minimum-percent pair, when configured.
func (s *Service) checkPricingFloor(ctx context.Context, j *Job, amount int64) error {
	var catID uint64
	if j.SubcategoryID != nil {
		catID = *j.SubcategoryID
	} else if tied := j.TiedSet(); len(tied) > 0 {
		catID = tied[0]
	} else {
		return nil
	}
	cat, err := s.repo.GetCategory(ctx, catID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	if cat.BaselinePrice == nil || cat.MinPercent == nil {
		return nil
	}
	min := *cat.BaselinePrice * int64(*cat.MinPercent) / 100
	if amount < min {
		return apperr.Validation("bid amount %d is below the minimum %d for this category", amount, min)
	}
	return nil
}

// AcceptBid enacts a customer's acceptance: the bid locks, the job
// transitions to matched with the worker assigned, the worker's
// notification chat converts into the conversation chat, and the
// onboarding code exchange starts.
func (s *Service) AcceptBid(ctx context.Context, customerID uint64, bidID string) error {
	b, err := s.getBid(ctx, bidID)
	if err != nil {
		return err
	}
	j, err := s.getJob(ctx, b.JobID)
	if err != nil {
		return err
	}
	if j.CustomerID != customerID {
		return apperr.Authorization("only the job's customer may accept bids on job %s", j.ID)
	}
	if j.Status != StatusPosted {
		return apperr.InvalidTransition("job %s is %s, bids can no longer be accepted", j.ID, j.Status)
	}
	moved, err := s.repo.UpdateBidStatus(ctx, b.ID, BidAccepted)
	if err != nil {
		return err
	}
	if moved == 0 {
		return apperr.InvalidTransition("bid %s is already %s", b.ID, b.Status)
	}

	// Authoritative transition; everything after it is best-effort.
	j.Status = StatusMatched
	j.WorkerID = &b.WorkerID
	if err := s.repo.SaveJob(ctx, j); err != nil {
		return err
	}

	code, err := s.EnsureOnboardingCode(ctx, j.ID)
	if err != nil {
		log.Printf("job=%s onboarding code failed err=%v", j.ID, err)
	}

	if _, err := s.chats.ConvertToConversation(ctx, b.WorkerID, j.CategoryID, j.CustomerID, j.ID); err != nil {
		log.Printf("job=%s conversation conversion failed err=%v", j.ID, err)
	}

	if _, err := s.chats.PostSystem(ctx, j.ChatID, chat.BubbleSystemNotification,
		"Your worker is on the way. Continue in your conversation chat.", chat.Metadata{}, &j.ID); err != nil {
		log.Printf("job=%s redirect notice failed err=%v", j.ID, err)
	}
	s.deliverOnboardingCode(ctx, j, code)

	s.publishDelayed(ctx, tasks.Task{Type: tasks.TypeOnboardingReminder, JobID: j.ID, Attempt: 1}, s.cfg.ReminderInterval)
	return nil
}

// RejectBid marks a pending bid rejected and refreshes the bid bubble.
// No further side effects.
func (s *Service) RejectBid(ctx context.Context, customerID uint64, bidID string) error {
	b, err := s.getBid(ctx, bidID)
	if err != nil {
		return err
	}
	j, err := s.getJob(ctx, b.JobID)
	if err != nil {
		return err
	}
	if j.CustomerID != customerID {
		return apperr.Authorization("only the job's customer may reject bids on job %s", j.ID)
	}
	moved, err := s.repo.UpdateBidStatus(ctx, b.ID, BidRejected)
	if err != nil {
		return err
	}
	if moved == 0 {
		return apperr.InvalidTransition("bid %s is already %s", b.ID, b.Status)
	}
	b.Status = BidRejected
	s.refreshBidBubbles(ctx, j, b)
	return nil
}

func (s *Service) ListJobBids(ctx context.Context, customerID uint64, jobID string) ([]Bid, error) {
	j, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.CustomerID != customerID {
		return nil, apperr.Authorization("only the job's customer may list bids on job %s", j.ID)
	}
	return s.repo.ListJobBids(ctx, jobID)
}

// ExpireStaleBids is the sweeper entry point run periodically by
// cmd/server.
func (s *Service) ExpireStaleBids(ctx context.Context) (int64, error) {
	return s.repo.ExpireStaleBids(ctx, s.now())
}

func (s *Service) getBid(ctx context.Context, bidID string) (*Bid, error) {
	b, err := s.repo.GetBid(ctx, bidID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("bid %s not found", bidID)
		}
		return nil, err
	}
	return b, nil
}

// refreshBidBubbles updates the customer's bid bubble and the worker's
// broadcast bubble metadata to reflect a decision.
func (s *Service) refreshBidBubbles(ctx context.Context, j *Job, b *Bid) {
	repo := s.chats.Repo()
	if msgs, err := repo.ListJobBubbles(ctx, j.ID, chat.BubbleBid); err == nil {
		for _, msg := range msgs {
			meta, err := chat.DecodeMetadata(msg.Metadata)
			if err != nil || meta.Bid == nil || meta.Bid.BidID != b.ID {
				continue
			}
			meta.Bid.Status = string(b.Status)
			if raw, err := meta.JSON(); err == nil {
				if err := repo.UpdateMessageMetadata(ctx, msg.ID, raw); err != nil {
					log.Printf("bid=%s bubble refresh failed err=%v", b.ID, err)
				}
			}
		}
	}
	if nc, err := repo.FindNotificationChat(ctx, b.WorkerID, j.CategoryID); err == nil {
		if msg, err := repo.FindJobBubble(ctx, j.ID, nc.ID, chat.BubbleWorkerJob); err == nil {
			meta, err := chat.DecodeMetadata(msg.Metadata)
			if err == nil && meta.Job != nil {
				meta.Job.Status = fmt.Sprintf("bid_%s", b.Status)
				if raw, err := meta.JSON(); err == nil {
					if err := repo.UpdateMessageMetadata(ctx, msg.ID, raw); err != nil {
						log.Printf("bid=%s broadcast refresh failed err=%v", b.ID, err)
					}
				}
			}
		}
	}
}

func bidData(b *Bid) *chat.BidData {
	return &chat.BidData{
		BidID:             b.ID,
		JobID:             b.JobID,
		WorkerID:          b.WorkerID,
		Amount:            b.Amount,
		EquipmentCost:     b.EquipmentCost,
		ServiceFee:        b.ServiceFee,
		TotalAmount:       b.TotalAmount,
		Status:            string(b.Status),
		ExpiresAt:         b.ExpiresAt,
		PriorityWindowEnd: b.PriorityWindowEnd,
	}
}
