package chat

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) DB() *gorm.DB { return r.db }

func (r *Repo) CreateChat(ctx context.Context, c *Chat) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *Repo) GetChat(ctx context.Context, id uint64) (*Chat, error) {
	var c Chat
	if err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repo) SaveChat(ctx context.Context, c *Chat) error {
	return r.db.WithContext(ctx).Save(c).Error
}

// FindServiceChat returns the customer's chat for a category with no
// worker attached, or gorm.ErrRecordNotFound.
func (r *Repo) FindServiceChat(ctx context.Context, customerID, categoryID uint64) (*Chat, error) {
	var c Chat
	err := r.db.WithContext(ctx).
		Where("customer_id = ? AND category_id = ? AND worker_id IS NULL", customerID, categoryID).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// FindNotificationChat returns the worker's broadcast chat for a category
// (no customer attached).
func (r *Repo) FindNotificationChat(ctx context.Context, workerID, categoryID uint64) (*Chat, error) {
	var c Chat
	err := r.db.WithContext(ctx).
		Where("worker_id = ? AND category_id = ? AND customer_id IS NULL", workerID, categoryID).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// FindConversationChat returns the customer+worker chat bound to a job.
func (r *Repo) FindConversationChat(ctx context.Context, jobID string) (*Chat, error) {
	var c Chat
	err := r.db.WithContext(ctx).
		Where("job_id = ? AND customer_id IS NOT NULL AND worker_id IS NOT NULL", jobID).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// FindServiceChatByJob returns the originating service chat of a job.
func (r *Repo) FindServiceChatByJob(ctx context.Context, jobID string) (*Chat, error) {
	var c Chat
	err := r.db.WithContext(ctx).
		Where("job_id = ? AND worker_id IS NULL", jobID).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// InsertMessage creates the message and bumps its partition counter in
// one transaction.
func (r *Repo) InsertMessage(ctx context.Context, m *Message) error {
	if m.YearMonth == "" {
		m.YearMonth = YearMonthOf(time.Now())
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(m).Error; err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chat_id"}, {Name: "year_month"}},
			DoUpdates: clause.Assignments(map[string]any{"message_count": gorm.Expr("message_count + 1")}),
		}).Create(&Partition{ChatID: m.ChatID, YearMonth: m.YearMonth, MessageCount: 1}).Error
	})
}

func (r *Repo) GetMessage(ctx context.Context, id uint64) (*Message, error) {
	var m Message
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessages returns non-expired messages of one partition in DESC id
// order (newest first).
func (r *Repo) ListMessages(ctx context.Context, chatID uint64, yearMonth string, limit int, beforeID uint64) ([]Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	q := r.db.WithContext(ctx).
		Where("chat_id = ? AND year_month = ? AND expired = ?", chatID, yearMonth, false).
		Order("id DESC").
		Limit(limit)
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}
	var msgs []Message
	if err := q.Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// ListPartitionMessages returns every message of one partition including
// expired ones, oldest first. Used by job creation to scan chat history.
func (r *Repo) ListPartitionMessages(ctx context.Context, chatID uint64, yearMonth string) ([]Message, error) {
	var msgs []Message
	err := r.db.WithContext(ctx).
		Where("chat_id = ? AND year_month = ?", chatID, yearMonth).
		Order("id ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *Repo) GetPartition(ctx context.Context, chatID uint64, yearMonth string) (*Partition, error) {
	var p Partition
	err := r.db.WithContext(ctx).
		Where("chat_id = ? AND year_month = ?", chatID, yearMonth).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repo) UpdateMessageMetadata(ctx context.Context, msgID uint64, meta datatypes.JSON) error {
	return r.db.WithContext(ctx).Model(&Message{}).
		Where("id = ?", msgID).
		Update("metadata", meta).Error
}

// ExpireMessage soft-hides one message. The row stays for audit; the
// partition counter is untouched.
func (r *Repo) ExpireMessage(ctx context.Context, msgID uint64) error {
	return r.db.WithContext(ctx).Model(&Message{}).
		Where("id = ?", msgID).
		Update("expired", true).Error
}

// ExpireChatMessages soft-hides every live message in the given chats.
func (r *Repo) ExpireChatMessages(ctx context.Context, chatIDs []uint64) error {
	if len(chatIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&Message{}).
		Where("chat_id IN ?", chatIDs).
		Where("expired = ?", false).
		Update("expired", true).Error
}

// ExpireJobBroadcasts soft-hides job-linked bubbles living outside the
// given chats (worker_job bubbles in other workers' notification chats).
func (r *Repo) ExpireJobBroadcasts(ctx context.Context, jobID string, excludeChatIDs []uint64) error {
	q := r.db.WithContext(ctx).Model(&Message{}).
		Where("job_id = ? AND expired = ?", jobID, false)
	if len(excludeChatIDs) > 0 {
		q = q.Where("chat_id NOT IN ?", excludeChatIDs)
	}
	return q.Update("expired", true).Error
}

// ExpireJobBubblesOfType soft-hides every live bubble of one type linked
// to a job, across all chats. Used for reminder and code-input cleanup.
func (r *Repo) ExpireJobBubblesOfType(ctx context.Context, jobID string, bubble BubbleType) error {
	return r.db.WithContext(ctx).Model(&Message{}).
		Where("job_id = ? AND bubble = ? AND expired = ?", jobID, bubble, false).
		Update("expired", true).Error
}

// FindJobBubble locates the bubble of a given type for a job within one
// chat (a categorizer's worker_job broadcast, a customer's bid bubble).
func (r *Repo) FindJobBubble(ctx context.Context, jobID string, chatID uint64, bubble BubbleType) (*Message, error) {
	var m Message
	err := r.db.WithContext(ctx).
		Where("job_id = ? AND chat_id = ? AND bubble = ?", jobID, chatID, bubble).
		Order("id DESC").
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListJobBubbles returns all bubbles of one type linked to a job across
// chats.
func (r *Repo) ListJobBubbles(ctx context.Context, jobID string, bubble BubbleType) ([]Message, error) {
	var msgs []Message
	err := r.db.WithContext(ctx).
		Where("job_id = ? AND bubble = ?", jobID, bubble).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// DeleteMessage hard-deletes one message and keeps the partition counter
// in sync, removing the partition row when it hits zero.
func (r *Repo) DeleteMessage(ctx context.Context, msgID uint64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m Message
		if err := tx.First(&m, "id = ?", msgID).Error; err != nil {
			return err
		}
		if err := tx.Delete(&Message{}, "id = ?", m.ID).Error; err != nil {
			return err
		}
		return decrementPartition(tx, m.ChatID, m.YearMonth, 1)
	})
}

// PurgeChatMessages hard-deletes the full history of a chat and drops all
// of its partition rows. Used by chat resets.
func (r *Repo) PurgeChatMessages(ctx context.Context, chatID uint64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&Message{}, "chat_id = ?", chatID).Error; err != nil {
			return err
		}
		return tx.Delete(&Partition{}, "chat_id = ?", chatID).Error
	})
}

func decrementPartition(tx *gorm.DB, chatID uint64, yearMonth string, n int64) error {
	res := tx.Model(&Partition{}).
		Where("chat_id = ? AND year_month = ?", chatID, yearMonth).
		Update("message_count", gorm.Expr("message_count - ?", n))
	if res.Error != nil {
		return res.Error
	}
	// Zero means "no messages in this window": drop the row rather than
	// leaving it at zero.
	return tx.
		Where("chat_id = ? AND year_month = ? AND message_count <= 0", chatID, yearMonth).
		Delete(&Partition{}).Error
}
