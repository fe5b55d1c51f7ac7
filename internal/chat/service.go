package chat

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/hirelocal/hirelocal/internal/apperr"
)

// CommandHandler intercepts chat text before it is stored. Returning
// handled=true swallows the message (it never becomes a bubble). The job
// service registers itself here for the "*1#" completion trigger.
type CommandHandler interface {
	HandleCommand(ctx context.Context, c *Chat, senderID uint64, text string) (handled bool, err error)
}

var nowFunc = time.Now

type Service struct {
	repo *Repo
	cmd  CommandHandler
}

func NewService(repo *Repo) *Service {
	return &Service{repo: repo}
}

// SetCommandHandler wires the command interceptor after construction;
// the job service depends on this service, so the hook breaks the cycle.
func (s *Service) SetCommandHandler(h CommandHandler) { s.cmd = h }

func (s *Service) Repo() *Repo { return s.repo }

// EnsureServiceChat returns the customer's chat for a category, creating
// it lazily on first need.
func (s *Service) EnsureServiceChat(ctx context.Context, customerID, categoryID uint64) (*Chat, error) {
	c, err := s.repo.FindServiceChat(ctx, customerID, categoryID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	c = &Chat{CategoryID: categoryID, CustomerID: &customerID}
	if err := s.repo.CreateChat(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// EnsureNotificationChat returns the worker's broadcast chat for a
// category, creating it lazily.
func (s *Service) EnsureNotificationChat(ctx context.Context, workerID, categoryID uint64) (*Chat, error) {
	c, err := s.repo.FindNotificationChat(ctx, workerID, categoryID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	c = &Chat{CategoryID: categoryID, WorkerID: &workerID}
	if err := s.repo.CreateChat(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// ConvertToConversation turns the worker's notification chat for the
// job's category into the dedicated customer+worker conversation chat by
// setting customer and job in place. Chat identity is preserved across
// the worker's lifecycle for this assignment.
func (s *Service) ConvertToConversation(ctx context.Context, workerID, categoryID, customerID uint64, jobID string) (*Chat, error) {
	c, err := s.EnsureNotificationChat(ctx, workerID, categoryID)
	if err != nil {
		return nil, err
	}
	c.CustomerID = &customerID
	c.JobID = &jobID
	if err := s.repo.SaveChat(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// ResetConversation returns a conversation chat to its pristine
// notification state: customer and job links cleared, history
// hard-deleted.
func (s *Service) ResetConversation(ctx context.Context, chatID uint64) error {
	c, err := s.repo.GetChat(ctx, chatID)
	if err != nil {
		return err
	}
	if err := s.repo.PurgeChatMessages(ctx, chatID); err != nil {
		return err
	}
	c.CustomerID = nil
	c.JobID = nil
	return s.repo.SaveChat(ctx, c)
}

// AttachJob links a job to a chat.
func (s *Service) AttachJob(ctx context.Context, chatID uint64, jobID string) error {
	return s.repo.db.WithContext(ctx).Model(&Chat{}).
		Where("id = ?", chatID).
		Update("job_id", jobID).Error
}

// ClearJob removes the job link from a chat. During cancellation this
// must run only after message expiry completed, or the expiry queries
// lose their anchor.
func (s *Service) ClearJob(ctx context.Context, chatID uint64) error {
	return s.repo.db.WithContext(ctx).Model(&Chat{}).
		Where("id = ?", chatID).
		Update("job_id", nil).Error
}

type SendInput struct {
	Bubble   BubbleType
	Content  string
	Metadata Metadata
	JobID    *string
}

// Send stores a user message and mirrors it into the counterpart chat
// when the sender's role implies a second party needs to see it:
// customer messages in a job-linked service chat are copied into the
// paired conversation chat, worker messages in a conversation chat are
// copied into the customer's service chat. The copy is an independent
// message with its own partition entry.
func (s *Service) Send(ctx context.Context, chatID, senderID uint64, in SendInput) (*Message, error) {
	c, err := s.repo.GetChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("chat %d not found", chatID)
		}
		return nil, err
	}

	isCustomer := c.CustomerID != nil && *c.CustomerID == senderID
	isWorker := c.WorkerID != nil && *c.WorkerID == senderID
	if !isCustomer && !isWorker {
		return nil, apperr.Authorization("sender %d is not a member of chat %d", senderID, chatID)
	}

	if s.cmd != nil && in.Bubble == BubbleText {
		handled, err := s.cmd.HandleCommand(ctx, c, senderID, strings.TrimSpace(in.Content))
		if err != nil {
			return nil, err
		}
		if handled {
			return nil, nil
		}
	}

	jobID := in.JobID
	if jobID == nil {
		jobID = c.JobID
	}
	meta, err := in.Metadata.JSON()
	if err != nil {
		return nil, err
	}
	msg := &Message{
		ChatID:   c.ID,
		SenderID: &senderID,
		JobID:    jobID,
		Bubble:   in.Bubble,
		Content:  in.Content,
		Metadata: meta,
	}
	if err := s.repo.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}

	s.mirror(ctx, c, senderID, msg)
	return msg, nil
}

// mirror is best-effort: a missing counterpart chat or a failed copy
// never fails the primary send.
func (s *Service) mirror(ctx context.Context, c *Chat, senderID uint64, msg *Message) {
	if c.JobID == nil {
		return
	}
	var counterpart *Chat
	var err error
	switch {
	case c.IsService() && *c.CustomerID == senderID:
		counterpart, err = s.repo.FindConversationChat(ctx, *c.JobID)
	case c.IsConversation() && c.WorkerID != nil && *c.WorkerID == senderID:
		counterpart, err = s.repo.FindServiceChatByJob(ctx, *c.JobID)
	default:
		return
	}
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("chat mirror lookup failed chat=%d job=%s err=%v", c.ID, *c.JobID, err)
		}
		return
	}
	copyMsg := &Message{
		ChatID:   counterpart.ID,
		SenderID: msg.SenderID,
		JobID:    msg.JobID,
		Bubble:   msg.Bubble,
		Content:  msg.Content,
		Metadata: msg.Metadata,
	}
	if err := s.repo.InsertMessage(ctx, copyMsg); err != nil {
		log.Printf("chat mirror insert failed chat=%d job=%s err=%v", counterpart.ID, *c.JobID, err)
	}
}

// PostSystem stores a platform-produced message. System messages are not
// mirrored.
func (s *Service) PostSystem(ctx context.Context, chatID uint64, bubble BubbleType, content string, meta Metadata, jobID *string) (*Message, error) {
	raw, err := meta.JSON()
	if err != nil {
		return nil, err
	}
	msg := &Message{
		ChatID:            chatID,
		JobID:             jobID,
		Bubble:            bubble,
		Content:           content,
		Metadata:          raw,
		IsSystemGenerated: true,
	}
	if err := s.repo.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *Service) ListMessages(ctx context.Context, chatID uint64, yearMonth string, limit int, beforeID uint64) ([]Message, error) {
	if yearMonth == "" {
		yearMonth = YearMonthOf(nowFunc())
	}
	return s.repo.ListMessages(ctx, chatID, yearMonth, limit, beforeID)
}
