package job

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/hirelocal/hirelocal/internal/apperr"
	"github.com/hirelocal/hirelocal/internal/chat"
	"github.com/hirelocal/hirelocal/internal/common"
	"github.com/hirelocal/hirelocal/internal/tasks"
)

// completionTrigger is the literal chat command the assigned worker sends
// to start the completion code exchange.
const completionTrigger = "*1#"

// EnsureOnboardingCode generates the job's 4-digit onboarding code once;
// repeated calls return the stored code.
func (s *Service) EnsureOnboardingCode(ctx context.Context, jobID string) (string, error) {
	return s.ensureCode(ctx, jobID, "onboarding", 4)
}

// EnsureCompletionCode generates the job's 6-digit completion code once.
func (s *Service) EnsureCompletionCode(ctx context.Context, jobID string) (string, error) {
	return s.ensureCode(ctx, jobID, "completion", 6)
}

func (s *Service) ensureCode(ctx context.Context, jobID, kind string, digits int) (string, error) {
	j, err := s.getJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	existing := j.OnboardingCode
	if kind == "completion" {
		existing = j.CompletionCode
	}
	if existing != nil && *existing != "" {
		return *existing, nil
	}
	code, err := common.NumericCode(digits)
	if err != nil {
		return "", err
	}
	if kind == "completion" {
		j.CompletionCode = &code
	} else {
		j.OnboardingCode = &code
	}
	if err := s.repo.SaveJob(ctx, j); err != nil {
		return "", err
	}
	return code, nil
}

// deliverOnboardingCode pushes the code to the customer (chat + SMS) and
// drops the input bubble into the worker's conversation chat.
func (s *Service) deliverOnboardingCode(ctx context.Context, j *Job, code string) {
	if code == "" {
		return
	}
	meta := chat.Metadata{Code: &chat.CodeData{JobID: j.ID, Kind: "onboarding"}}
	if _, err := s.chats.PostSystem(ctx, j.ChatID, chat.BubbleSystemInstruction,
		fmt.Sprintf("Share this onboarding code with your worker when they arrive: %s", code),
		meta, &j.ID); err != nil {
		log.Printf("job=%s onboarding instruction failed err=%v", j.ID, err)
	}
	if customer, err := s.repo.GetUser(ctx, j.CustomerID); err == nil {
		if err := s.sendSMS(customer.Phone, fmt.Sprintf("Your onboarding code: %s", code)); err != nil {
			log.Printf("job=%s onboarding sms failed err=%v", j.ID, err)
		}
	}
	if conv, err := s.chats.Repo().FindConversationChat(ctx, j.ID); err == nil {
		if _, err := s.chats.PostSystem(ctx, conv.ID, chat.BubbleOnboardingCodeInput,
			"Enter the customer's onboarding code to start the job.", meta, &j.ID); err != nil {
			log.Printf("job=%s onboarding input bubble failed err=%v", j.ID, err)
		}
	}
}

// ValidateOnboardingCode compares the worker's input to the stored code;
// a match schedules the in_progress transition and reminder expiry.
// Mismatches are plain validation failures: retries are not limited.
func (s *Service) ValidateOnboardingCode(ctx context.Context, workerID uint64, jobID, input string) error {
	j, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}
	if j.Status != StatusMatched {
		return apperr.InvalidTransition("job %s is %s, not awaiting onboarding", j.ID, j.Status)
	}
	if j.WorkerID == nil || *j.WorkerID != workerID {
		return apperr.Authorization("worker %d is not assigned to job %s", workerID, j.ID)
	}
	if j.OnboardingCode == nil || strings.TrimSpace(input) != *j.OnboardingCode {
		return apperr.Validation("onboarding code does not match")
	}
	s.publish(ctx, tasks.Task{Type: tasks.TypeActivateJob, JobID: j.ID})
	return nil
}

// ValidateCompletionCode mirrors the onboarding flow, scheduling the
// completed transition on match.
func (s *Service) ValidateCompletionCode(ctx context.Context, workerID uint64, jobID, input string) error {
	j, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}
	if j.Status != StatusInProgress {
		return apperr.InvalidTransition("job %s is %s, not in progress", j.ID, j.Status)
	}
	if j.WorkerID == nil || *j.WorkerID != workerID {
		return apperr.Authorization("worker %d is not assigned to job %s", workerID, j.ID)
	}
	if j.CompletionCode == nil || strings.TrimSpace(input) != *j.CompletionCode {
		return apperr.Validation("completion code does not match")
	}
	s.publish(ctx, tasks.Task{Type: tasks.TypeCompleteJob, JobID: j.ID})
	return nil
}

// HandleCommand implements chat.CommandHandler. The "*1#" trigger from
// the assigned worker in their conversation chat starts the completion
// code exchange; anything else falls through as an ordinary message.
func (s *Service) HandleCommand(ctx context.Context, c *chat.Chat, senderID uint64, text string) (bool, error) {
	if text != completionTrigger {
		return false, nil
	}
	if !c.IsConversation() || c.JobID == nil {
		return false, nil
	}
	j, err := s.getJob(ctx, *c.JobID)
	if err != nil {
		return false, nil
	}
	if j.Status != StatusInProgress || j.WorkerID == nil || *j.WorkerID != senderID {
		return false, nil
	}

	code, err := s.EnsureCompletionCode(ctx, j.ID)
	if err != nil {
		return true, err
	}
	meta := chat.Metadata{Code: &chat.CodeData{JobID: j.ID, Kind: "completion"}}
	if _, err := s.chats.PostSystem(ctx, j.ChatID, chat.BubbleSystemInstruction,
		fmt.Sprintf("Share this completion code with your worker once the job is done: %s", code),
		meta, &j.ID); err != nil {
		log.Printf("job=%s completion instruction failed err=%v", j.ID, err)
	}
	if customer, err := s.repo.GetUser(ctx, j.CustomerID); err == nil {
		if err := s.sendSMS(customer.Phone, fmt.Sprintf("Your completion code: %s", code)); err != nil {
			log.Printf("job=%s completion sms failed err=%v", j.ID, err)
		}
	}
	if _, err := s.chats.PostSystem(ctx, c.ID, chat.BubbleCompletionCodeInput,
		"Enter the customer's completion code to finish the job.", meta, &j.ID); err != nil {
		log.Printf("job=%s completion input bubble failed err=%v", j.ID, err)
	}
	return true, nil
}

// SubmitRating records one party's rating for a completed job; once both
// parties have rated, the rating request bubbles are expired.
func (s *Service) SubmitRating(ctx context.Context, raterID uint64, jobID string, stars int, comment string) error {
	j, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}
	if j.Status != StatusCompleted {
		return apperr.InvalidTransition("job %s is %s, ratings open after completion", j.ID, j.Status)
	}
	if stars < 1 || stars > 5 {
		return apperr.Validation("stars must be between 1 and 5")
	}
	var rateeID uint64
	switch {
	case raterID == j.CustomerID && j.WorkerID != nil:
		rateeID = *j.WorkerID
	case j.WorkerID != nil && raterID == *j.WorkerID:
		rateeID = j.CustomerID
	default:
		return apperr.Authorization("user %d was not a party to job %s", raterID, j.ID)
	}

	r := &Rating{JobID: j.ID, RaterID: raterID, RateeID: rateeID, Stars: stars, Comment: comment}
	if err := s.repo.CreateRating(ctx, r); err != nil {
		return apperr.AlreadyExists("user %d already rated job %s", raterID, j.ID)
	}

	cnt, err := s.repo.CountRatings(ctx, j.ID)
	if err == nil && cnt >= 2 {
		if err := s.chats.Repo().ExpireJobBubblesOfType(ctx, j.ID, chat.BubbleRatingRequest); err != nil {
			log.Printf("job=%s rating bubble expiry failed err=%v", j.ID, err)
		}
	}
	return nil
}
