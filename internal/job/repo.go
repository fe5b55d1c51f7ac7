package job

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/hirelocal/hirelocal/internal/models"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) DB() *gorm.DB { return r.db }

func (r *Repo) CreateJob(ctx context.Context, j *Job) error {
	return r.db.WithContext(ctx).Create(j).Error
}

func (r *Repo) GetJob(ctx context.Context, id string) (*Job, error) {
	var j Job
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *Repo) SaveJob(ctx context.Context, j *Job) error {
	return r.db.WithContext(ctx).Save(j).Error
}

func (r *Repo) GetUser(ctx context.Context, id uint64) (*models.User, error) {
	var u models.User
	if err := r.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *Repo) GetCategory(ctx context.Context, id uint64) (*models.Category, error) {
	var c models.Category
	if err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repo) Subcategories(ctx context.Context, parentID uint64) ([]models.Category, error) {
	var cats []models.Category
	err := r.db.WithContext(ctx).
		Where("parent_id = ?", parentID).
		Order("id ASC").
		Find(&cats).Error
	if err != nil {
		return nil, err
	}
	return cats, nil
}

// IsSubcategoryOf reports whether child is a direct child of parent.
func (r *Repo) IsSubcategoryOf(ctx context.Context, childID, parentID uint64) (bool, error) {
	var cnt int64
	err := r.db.WithContext(ctx).Model(&models.Category{}).
		Where("id = ? AND parent_id = ?", childID, parentID).
		Count(&cnt).Error
	return cnt > 0, err
}

// EligibleWorker is one candidate for a categorizer group.
type EligibleWorker struct {
	WorkerID uint64
	Expert   bool
}

// EligibleWorkers returns approved, positive-balance workers skilled in
// the category, with their expert designation.
func (r *Repo) EligibleWorkers(ctx context.Context, categoryID uint64) ([]EligibleWorker, error) {
	var rows []EligibleWorker
	err := r.db.WithContext(ctx).Model(&models.WorkerSkill{}).
		Select("worker_skills.worker_id AS worker_id, worker_skills.expert AS expert").
		Joins("JOIN users ON users.id = worker_skills.worker_id").
		Where("worker_skills.category_id = ?", categoryID).
		Where("users.role = ?", models.RoleWorker).
		Where("users.approval = ?", models.ApprovalApproved).
		Where("users.balance > 0").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// WorkersSkilledIn returns worker ids holding a skill row for the given
// category node. Used for bidding-eligibility fan-out.
func (r *Repo) WorkersSkilledIn(ctx context.Context, categoryID uint64) ([]uint64, error) {
	var ids []uint64
	err := r.db.WithContext(ctx).Model(&models.WorkerSkill{}).
		Joins("JOIN users ON users.id = worker_skills.worker_id").
		Where("worker_skills.category_id = ?", categoryID).
		Where("users.role = ?", models.RoleWorker).
		Where("users.approval = ?", models.ApprovalApproved).
		Pluck("worker_skills.worker_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *Repo) HasVote(ctx context.Context, jobID string, workerID uint64) (bool, error) {
	var cnt int64
	err := r.db.WithContext(ctx).Model(&Vote{}).
		Where("job_id = ? AND worker_id = ?", jobID, workerID).
		Count(&cnt).Error
	return cnt > 0, err
}

func (r *Repo) ListVotes(ctx context.Context, jobID string) ([]Vote, error) {
	var votes []Vote
	err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("id ASC").
		Find(&votes).Error
	if err != nil {
		return nil, err
	}
	return votes, nil
}

func (r *Repo) CreateBid(ctx context.Context, b *Bid) error {
	return r.db.WithContext(ctx).Create(b).Error
}

func (r *Repo) GetBid(ctx context.Context, id string) (*Bid, error) {
	var b Bid
	if err := r.db.WithContext(ctx).First(&b, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *Repo) HasBid(ctx context.Context, jobID string, workerID uint64) (bool, error) {
	var cnt int64
	err := r.db.WithContext(ctx).Model(&Bid{}).
		Where("job_id = ? AND worker_id = ?", jobID, workerID).
		Count(&cnt).Error
	return cnt > 0, err
}

func (r *Repo) ListJobBids(ctx context.Context, jobID string) ([]Bid, error) {
	var bids []Bid
	err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC").
		Find(&bids).Error
	if err != nil {
		return nil, err
	}
	return bids, nil
}

// UpdateBidStatus moves a pending bid to its terminal status exactly
// once; returns the number of rows moved.
func (r *Repo) UpdateBidStatus(ctx context.Context, bidID string, to BidStatus) (int64, error) {
	res := r.db.WithContext(ctx).Model(&Bid{}).
		Where("id = ? AND status = ?", bidID, BidPending).
		Update("status", to)
	return res.RowsAffected, res.Error
}

// ExpireStaleBids rejects pending bids whose expiry has passed.
func (r *Repo) ExpireStaleBids(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&Bid{}).
		Where("status = ? AND expires_at < ?", BidPending, now).
		Update("status", BidRejected)
	return res.RowsAffected, res.Error
}

func (r *Repo) CreateCancellation(ctx context.Context, l *CancellationLog) error {
	return r.db.WithContext(ctx).Create(l).Error
}

func (r *Repo) CreateRating(ctx context.Context, rating *Rating) error {
	return r.db.WithContext(ctx).Create(rating).Error
}

func (r *Repo) CountRatings(ctx context.Context, jobID string) (int64, error) {
	var cnt int64
	err := r.db.WithContext(ctx).Model(&Rating{}).
		Where("job_id = ?", jobID).
		Count(&cnt).Error
	return cnt, err
}
