package job

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	"gorm.io/gorm"

	"github.com/hirelocal/hirelocal/internal/apperr"
	"github.com/hirelocal/hirelocal/internal/chat"
	"github.com/hirelocal/hirelocal/internal/common"
	"github.com/hirelocal/hirelocal/internal/models"
	"github.com/hirelocal/hirelocal/internal/settings"
	"github.com/hirelocal/hirelocal/internal/tasks"
)

// SettingsLookup resolves runtime-mutable configuration. The settings
// service implements it; tests inject a constant.
type SettingsLookup interface {
	GetInt(ctx context.Context, key string, def int) int
}

// TaskQueue publishes deferred work for cmd/worker.
type TaskQueue interface {
	Publish(ctx context.Context, t tasks.Task) error
	PublishDelayed(ctx context.Context, t tasks.Task, delay time.Duration) error
}

// SMSFunc delivers a short text to a phone number. Delivery confirmation
// is never awaited.
type SMSFunc func(phone, text string) error

type Config struct {
	GroupSizeDefault int
	FeePercent       int
	BidExpiry        time.Duration
	PriorityWindow   time.Duration
	ReminderInterval time.Duration
	ReminderCount    int
}

func (c *Config) fillDefaults() {
	if c.GroupSizeDefault <= 0 {
		c.GroupSizeDefault = 6
	}
	if c.FeePercent <= 0 {
		c.FeePercent = 10
	}
	if c.BidExpiry <= 0 {
		c.BidExpiry = 24 * time.Hour
	}
	if c.PriorityWindow <= 0 {
		c.PriorityWindow = 2 * time.Hour
	}
	if c.ReminderInterval <= 0 {
		c.ReminderInterval = 5 * time.Minute
	}
	if c.ReminderCount <= 0 {
		c.ReminderCount = 12
	}
}

// Service owns the job state machine and orchestrates categorization,
// bidding, code exchange and cancellation. State transitions are
// authoritative; notification and chat side effects are best-effort and
// never roll a transition back.
type Service struct {
	repo     *Repo
	chats    *chat.Service
	settings SettingsLookup
	queue    TaskQueue
	sendSMS  SMSFunc
	cfg      Config
	now      func() time.Time
}

func NewService(repo *Repo, chats *chat.Service, lookup SettingsLookup, queue TaskQueue, sendSMS SMSFunc, cfg Config) *Service {
	cfg.fillDefaults()
	if sendSMS == nil {
		sendSMS = func(phone, text string) error { return nil }
	}
	return &Service{
		repo:     repo,
		chats:    chats,
		settings: lookup,
		queue:    queue,
		sendSMS:  sendSMS,
		cfg:      cfg,
		now:      time.Now,
	}
}

type CreateInput struct {
	ChatID     uint64
	Location   string
	PriceFloor int64
	Consent    bool
}

// CreateFromChat turns a completed service-chat conversation into a
// posted job. The current-month partition must contain a customer voice
// message and a date selection; system-generated copies of those bubble
// types do not count.
func (s *Service) CreateFromChat(ctx context.Context, customerID uint64, in CreateInput) (*Job, error) {
	c, err := s.chats.Repo().GetChat(ctx, in.ChatID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("chat %d not found", in.ChatID)
		}
		return nil, err
	}
	if !c.IsService() || *c.CustomerID != customerID {
		return nil, apperr.Authorization("chat %d does not belong to customer %d", in.ChatID, customerID)
	}
	if c.JobID != nil {
		return nil, apperr.AlreadyExists("chat %d already linked to job %s", in.ChatID, *c.JobID)
	}
	if !in.Consent {
		return nil, apperr.Validation("consent is required to post a job")
	}

	month := chat.YearMonthOf(s.now())
	msgs, err := s.chats.Repo().ListPartitionMessages(ctx, c.ID, month)
	if err != nil {
		return nil, err
	}

	var voiceURL, scheduledDate string
	var photos []string
	for _, m := range msgs {
		if m.IsSystemGenerated {
			continue
		}
		switch m.Bubble {
		case chat.BubbleVoice:
			voiceURL = m.Content
		case chat.BubbleDate:
			scheduledDate = m.Content
			if meta, err := chat.DecodeMetadata(m.Metadata); err == nil && meta.Date != nil {
				scheduledDate = meta.Date.Date
			}
		case chat.BubblePhoto:
			photos = append(photos, m.Content)
		}
	}
	if voiceURL == "" {
		return nil, apperr.Validation("a voice message describing the request is required")
	}
	if scheduledDate == "" {
		return nil, apperr.Validation("a date selection is required")
	}

	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	workCode, err := common.NumericCode(6)
	if err != nil {
		return nil, err
	}
	photosJSON, err := encodeStrings(photos)
	if err != nil {
		return nil, err
	}

	j := &Job{
		ID:                id,
		CustomerID:        customerID,
		CategoryID:        c.CategoryID,
		Status:            StatusPosted,
		BroadcastingPhase: PhaseUnassigned,
		ChatID:            c.ID,
		WorkCode:          workCode,
		PriceFloor:        in.PriceFloor,
		Location:          in.Location,
		VoiceURL:          voiceURL,
		ScheduledDate:     scheduledDate,
		Photos:            photosJSON,
	}
	if err := s.repo.CreateJob(ctx, j); err != nil {
		return nil, err
	}
	if err := s.chats.AttachJob(ctx, c.ID, j.ID); err != nil {
		return nil, err
	}

	// Status bubble plus a transient loading bubble while categorizers
	// are assigned in the background.
	s.postJobBubble(ctx, c.ID, j, nil)
	if _, err := s.chats.PostSystem(ctx, c.ID, chat.BubbleLoading, "", chat.Metadata{}, &j.ID); err != nil {
		log.Printf("job=%s loading bubble failed err=%v", j.ID, err)
	}

	s.publish(ctx, tasks.Task{Type: tasks.TypeAssignCategorizers, JobID: j.ID})
	return j, nil
}

// AssignCategorizers forms the frozen categorizer group for a job, or
// skips categorization entirely when the category has no subcategories.
// Runs once per job.
func (s *Service) AssignCategorizers(ctx context.Context, jobID string) error {
	j, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}
	if j.Status != StatusPosted {
		return apperr.InvalidTransition("job %s is %s, not posted", j.ID, j.Status)
	}
	if j.BroadcastingPhase != PhaseUnassigned || len(j.CategorizerSet()) > 0 {
		return apperr.AlreadyExists("job %s already has categorizers assigned", j.ID)
	}

	subcats, err := s.repo.Subcategories(ctx, j.CategoryID)
	if err != nil {
		return err
	}
	if len(subcats) == 0 {
		// Nothing to vote on: the parent category is the subcategory and
		// bidding opens immediately.
		parent := j.CategoryID
		j.SubcategoryID = &parent
		j.BroadcastingPhase = PhaseBidding
		if err := s.repo.SaveJob(ctx, j); err != nil {
			return err
		}
		s.broadcastBidding(ctx, j, []uint64{parent})
		return nil
	}

	eligible, err := s.repo.EligibleWorkers(ctx, j.CategoryID)
	if err != nil {
		return err
	}
	if len(eligible) == 0 {
		return apperr.Validation("no eligible workers to categorize jobs in category %d", j.CategoryID)
	}

	target := s.cfg.GroupSizeDefault
	if s.settings != nil {
		target = s.settings.GetInt(ctx, settings.KeyCategorizerGroupSize, s.cfg.GroupSizeDefault)
	}

	var experts, rest []EligibleWorker
	for _, w := range eligible {
		if w.Expert {
			experts = append(experts, w)
		} else {
			rest = append(rest, w)
		}
	}
	shuffleWorkers(experts)
	shuffleWorkers(rest)

	selected := make([]uint64, 0, target)
	for _, w := range experts {
		if len(selected) == target {
			break
		}
		selected = append(selected, w.WorkerID)
	}
	for _, w := range rest {
		if len(selected) == target {
			break
		}
		selected = append(selected, w.WorkerID)
	}

	j.CategorizerIDs = encodeIDs(selected)
	j.CategorizerGroupSize = len(selected)
	j.BroadcastingPhase = PhaseCategorizing
	if err := s.repo.SaveJob(ctx, j); err != nil {
		return err
	}

	for _, workerID := range selected {
		s.notifyWorkerJob(ctx, workerID, j)
	}
	return nil
}

// activate performs the matched -> in_progress transition after the
// onboarding code was validated.
func (s *Service) activate(ctx context.Context, jobID string) error {
	j, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}
	if j.Status != StatusMatched {
		return apperr.InvalidTransition("job %s is %s, not matched", j.ID, j.Status)
	}
	j.Status = StatusInProgress
	if err := s.repo.SaveJob(ctx, j); err != nil {
		return err
	}

	repo := s.chats.Repo()
	if _, err := s.chats.PostSystem(ctx, j.ChatID, chat.BubbleSystemNotification,
		"Your worker has arrived and the job is now in progress.", chat.Metadata{}, &j.ID); err != nil {
		log.Printf("job=%s activate notify failed err=%v", j.ID, err)
	}
	if err := repo.ExpireJobBubblesOfType(ctx, j.ID, chat.BubbleSystemPrompt); err != nil {
		log.Printf("job=%s reminder expiry failed err=%v", j.ID, err)
	}
	if err := repo.ExpireJobBubblesOfType(ctx, j.ID, chat.BubbleOnboardingCodeInput); err != nil {
		log.Printf("job=%s code input expiry failed err=%v", j.ID, err)
	}
	return nil
}

// complete performs the in_progress -> completed transition after the
// completion code was validated, resets the linked chats and starts the
// rating flow.
func (s *Service) complete(ctx context.Context, jobID string) error {
	j, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}
	if j.Status != StatusInProgress {
		return apperr.InvalidTransition("job %s is %s, not in_progress", j.ID, j.Status)
	}
	j.Status = StatusCompleted
	if err := s.repo.SaveJob(ctx, j); err != nil {
		return err
	}

	repo := s.chats.Repo()
	if err := repo.ExpireJobBubblesOfType(ctx, j.ID, chat.BubbleCompletionCodeInput); err != nil {
		log.Printf("job=%s code input expiry failed err=%v", j.ID, err)
	}

	var workerNotifChatID uint64
	if conv, err := repo.FindConversationChat(ctx, j.ID); err == nil {
		workerNotifChatID = conv.ID
		if err := s.chats.ResetConversation(ctx, conv.ID); err != nil {
			log.Printf("job=%s conversation reset failed err=%v", j.ID, err)
		}
	}
	if err := s.chats.ClearJob(ctx, j.ChatID); err != nil {
		log.Printf("job=%s service chat unlink failed err=%v", j.ID, err)
	}

	// Rating requests go out after the resets so the worker's copy lands
	// in the surviving notification chat.
	if j.WorkerID != nil {
		s.postRatingRequest(ctx, j.ChatID, j, j.CustomerID, *j.WorkerID)
		if workerNotifChatID != 0 {
			s.postRatingRequest(ctx, workerNotifChatID, j, *j.WorkerID, j.CustomerID)
		}
	}
	return nil
}

// Cancel moves a job to cancelled from any non-terminal state. Only the
// job's customer or an admin may cancel. Messages in the job's chats are
// expired immediately; broadcast bubbles in other workers' chats are
// expired by a delayed task, which clears the originating chat's job
// reference last.
func (s *Service) Cancel(ctx context.Context, actorID uint64, jobID, reason string) error {
	j, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}
	if actorID != j.CustomerID {
		actor, err := s.repo.GetUser(ctx, actorID)
		if err != nil || actor.Role != models.RoleAdmin {
			return apperr.Authorization("only the job's customer may cancel job %s", j.ID)
		}
	}
	if j.Status.Terminal() {
		return apperr.InvalidTransition("job %s is already %s", j.ID, j.Status)
	}

	logEntry := &CancellationLog{
		JobID:       j.ID,
		CancelledBy: actorID,
		Phase:       j.BroadcastingPhase,
		FromStatus:  j.Status,
		Reason:      reason,
	}
	if err := s.repo.CreateCancellation(ctx, logEntry); err != nil {
		return err
	}
	j.Status = StatusCancelled
	if err := s.repo.SaveJob(ctx, j); err != nil {
		return err
	}

	chatIDs := []uint64{j.ChatID}
	if conv, err := s.chats.Repo().FindConversationChat(ctx, j.ID); err == nil {
		chatIDs = append(chatIDs, conv.ID)
	}
	if err := s.chats.Repo().ExpireChatMessages(ctx, chatIDs); err != nil {
		log.Printf("job=%s cancel expiry failed err=%v", j.ID, err)
	}

	s.publishDelayed(ctx, tasks.Task{Type: tasks.TypeFinishCancel, JobID: j.ID}, 30*time.Second)
	return nil
}

// finishCancel is the delayed tail of cancellation. It re-checks status:
// cancellation of the task itself is cooperative, not preemptive.
func (s *Service) finishCancel(ctx context.Context, jobID string) error {
	j, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}
	if j.Status != StatusCancelled {
		return nil
	}
	repo := s.chats.Repo()
	if err := repo.ExpireJobBroadcasts(ctx, j.ID, nil); err != nil {
		return err
	}
	if conv, err := repo.FindConversationChat(ctx, j.ID); err == nil {
		if err := s.chats.ResetConversation(ctx, conv.ID); err != nil {
			log.Printf("job=%s conversation reset failed err=%v", j.ID, err)
		}
	}
	// Last step: expiry queries anchored on the chat's job reference have
	// all completed by now.
	return s.chats.ClearJob(ctx, j.ChatID)
}

// onboardingReminder nags the worker while the job is still matched,
// re-publishing itself until the attempt cap.
func (s *Service) onboardingReminder(ctx context.Context, jobID string, attempt int) error {
	j, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}
	if j.Status != StatusMatched {
		return nil
	}
	conv, err := s.chats.Repo().FindConversationChat(ctx, j.ID)
	if err == nil {
		if _, err := s.chats.PostSystem(ctx, conv.ID, chat.BubbleSystemPrompt,
			"Reminder: ask the customer for the onboarding code to start the job.",
			chat.Metadata{Code: &chat.CodeData{JobID: j.ID, Kind: "onboarding"}}, &j.ID); err != nil {
			log.Printf("job=%s reminder post failed err=%v", j.ID, err)
		}
	}
	if attempt < s.cfg.ReminderCount {
		s.publishDelayed(ctx, tasks.Task{Type: tasks.TypeOnboardingReminder, JobID: j.ID, Attempt: attempt + 1}, s.cfg.ReminderInterval)
	}
	return nil
}

// HandleTask executes one deferred task. Already-applied transitions are
// treated as no-ops so redelivered tasks ack cleanly.
func (s *Service) HandleTask(ctx context.Context, t tasks.Task) error {
	var err error
	switch t.Type {
	case tasks.TypeAssignCategorizers:
		err = s.AssignCategorizers(ctx, t.JobID)
	case tasks.TypeOnboardingReminder:
		attempt := t.Attempt
		if attempt <= 0 {
			attempt = 1
		}
		err = s.onboardingReminder(ctx, t.JobID, attempt)
	case tasks.TypeActivateJob:
		err = s.activate(ctx, t.JobID)
	case tasks.TypeCompleteJob:
		err = s.complete(ctx, t.JobID)
	case tasks.TypeFinishCancel:
		err = s.finishCancel(ctx, t.JobID)
	default:
		return fmt.Errorf("unknown task type %q", t.Type)
	}
	switch apperr.KindOf(err) {
	case apperr.KindAlreadyExists, apperr.KindInvalidTransition:
		log.Printf("task=%s job=%s superseded: %v", t.Type, t.JobID, err)
		return nil
	}
	return err
}

func (s *Service) GetJob(ctx context.Context, jobID string) (*Job, error) {
	return s.getJob(ctx, jobID)
}

func (s *Service) getJob(ctx context.Context, jobID string) (*Job, error) {
	j, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("job %s not found", jobID)
		}
		return nil, err
	}
	return j, nil
}

func (s *Service) publish(ctx context.Context, t tasks.Task) {
	if s.queue == nil {
		return
	}
	if err := s.queue.Publish(ctx, t); err != nil {
		log.Printf("task publish failed type=%s job=%s err=%v", t.Type, t.JobID, err)
	}
}

func (s *Service) publishDelayed(ctx context.Context, t tasks.Task, delay time.Duration) {
	if s.queue == nil {
		return
	}
	if err := s.queue.PublishDelayed(ctx, t, delay); err != nil {
		log.Printf("delayed task publish failed type=%s job=%s err=%v", t.Type, t.JobID, err)
	}
}

// postJobBubble writes the customer-facing job status bubble.
func (s *Service) postJobBubble(ctx context.Context, chatID uint64, j *Job, extra *chat.JobData) {
	data := chat.JobData{
		JobID:         j.ID,
		CategoryID:    j.CategoryID,
		SubcategoryID: j.SubcategoryID,
		Status:        string(j.Status),
		Phase:         j.BroadcastingPhase,
		Location:      j.Location,
		PriceFloor:    j.PriceFloor,
	}
	if extra != nil {
		data = *extra
	}
	if _, err := s.chats.PostSystem(ctx, chatID, chat.BubbleJob, "", chat.Metadata{Job: &data}, &j.ID); err != nil {
		log.Printf("job=%s status bubble failed chat=%d err=%v", j.ID, chatID, err)
	}
}

// notifyWorkerJob drops a worker_job broadcast bubble into the worker's
// notification chat for the job's category.
func (s *Service) notifyWorkerJob(ctx context.Context, workerID uint64, j *Job) {
	nc, err := s.chats.EnsureNotificationChat(ctx, workerID, j.CategoryID)
	if err != nil {
		log.Printf("job=%s notification chat failed worker=%d err=%v", j.ID, workerID, err)
		return
	}
	data := chat.JobData{
		JobID:         j.ID,
		CategoryID:    j.CategoryID,
		SubcategoryID: j.SubcategoryID,
		Status:        string(j.Status),
		Phase:         j.BroadcastingPhase,
		Location:      j.Location,
		PriceFloor:    j.PriceFloor,
	}
	if _, err := s.chats.PostSystem(ctx, nc.ID, chat.BubbleWorkerJob, "", chat.Metadata{Job: &data}, &j.ID); err != nil {
		log.Printf("job=%s worker_job bubble failed worker=%d err=%v", j.ID, workerID, err)
	}
}

// broadcastBidding fans out bidding-eligibility notifications to workers
// skilled in the resolved subcategory (or subcategories, on a tie).
func (s *Service) broadcastBidding(ctx context.Context, j *Job, subcategoryIDs []uint64) {
	seen := make(map[uint64]struct{})
	for _, subID := range subcategoryIDs {
		workerIDs, err := s.repo.WorkersSkilledIn(ctx, subID)
		if err != nil {
			log.Printf("job=%s bidding fan-out query failed subcategory=%d err=%v", j.ID, subID, err)
			continue
		}
		for _, wid := range workerIDs {
			if _, dup := seen[wid]; dup {
				continue
			}
			seen[wid] = struct{}{}
			s.notifyWorkerJob(ctx, wid, j)
		}
	}
}

func (s *Service) postRatingRequest(ctx context.Context, chatID uint64, j *Job, raterID, rateeID uint64) {
	meta := chat.Metadata{Rating: &chat.RatingData{JobID: j.ID, RaterID: raterID, RateeID: rateeID}}
	if _, err := s.chats.PostSystem(ctx, chatID, chat.BubbleRatingRequest,
		"How did it go? Please rate your experience.", meta, &j.ID); err != nil {
		log.Printf("job=%s rating request failed chat=%d err=%v", j.ID, chatID, err)
	}
}

func shuffleWorkers(ws []EligibleWorker) {
	for i := len(ws) - 1; i > 0; i-- {
		j := randInt(i + 1)
		ws[i], ws[j] = ws[j], ws[i]
	}
}

func randInt(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(v.Int64())
}
