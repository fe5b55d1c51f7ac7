package job

import (
	"context"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/hirelocal/hirelocal/internal/apperr"
	"github.com/hirelocal/hirelocal/internal/chat"
	"github.com/hirelocal/hirelocal/internal/models"
	"github.com/hirelocal/hirelocal/internal/tasks"
)

// bidFixture wires a categorized job open for bidding with one eligible
// worker, optionally with a pricing floor on the subcategory.
type bidFixture struct {
	svc     *Service
	chatSvc *chat.Service
	queue   *recordingQueue
	db      *gorm.DB

	job        *Job
	customerID uint64
	workerID   uint64
	subID      uint64
}

func newBidFixture(t *testing.T, baseline *int64, minPercent *int) *bidFixture {
	t.Helper()
	svc, chatSvc, queue, db := newTestService(t, 0)
	ctx := context.Background()

	customerID := seedUser(t, db, "c1", models.RoleCustomer, 0)
	workerID := seedUser(t, db, "w1", models.RoleWorker, 100)
	catID := seedCategory(t, db, "plumbing", nil)

	sub := models.Category{Name: "taps", ParentID: &catID, BaselinePrice: baseline, MinPercent: minPercent}
	if err := db.Create(&sub).Error; err != nil {
		t.Fatalf("seed subcategory: %v", err)
	}
	seedSkill(t, db, workerID, sub.ID, false)

	c := seedServiceChatWithRequest(t, chatSvc, customerID, catID)
	j, err := svc.CreateFromChat(ctx, customerID, CreateInput{ChatID: c.ID, Consent: true})
	if err != nil {
		t.Fatalf("create from chat: %v", err)
	}

	// Lock categorization directly; the consensus path has its own tests.
	j.SubcategoryID = &sub.ID
	j.BroadcastingPhase = PhaseBidding
	if err := db.Save(j).Error; err != nil {
		t.Fatalf("lock subcategory: %v", err)
	}

	return &bidFixture{svc: svc, chatSvc: chatSvc, queue: queue, db: db,
		job: j, customerID: customerID, workerID: workerID, subID: sub.ID}
}

func int64p(v int64) *int64 { return &v }
func intp(v int) *int       { return &v }

func TestSubmitBid_PricingFloorBoundary(t *testing.T) {
	f := newBidFixture(t, int64p(1000), intp(50))
	ctx := context.Background()

	_, err := f.svc.SubmitBid(ctx, f.workerID, BidInput{JobID: f.job.ID, Amount: 499})
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected validation failure below floor, got %v", err)
	}
	if !strings.Contains(err.Error(), "500") {
		t.Fatalf("expected computed minimum 500 in error, got %q", err.Error())
	}

	b, err := f.svc.SubmitBid(ctx, f.workerID, BidInput{JobID: f.job.ID, Amount: 500, EquipmentCost: 30})
	if err != nil {
		t.Fatalf("bid at exact floor: %v", err)
	}
	if b.ServiceFee != 50 {
		t.Fatalf("expected 10%% fee of 50, got %d", b.ServiceFee)
	}
	if b.TotalAmount != 500+30+50 {
		t.Fatalf("expected total 580, got %d", b.TotalAmount)
	}
	if b.Status != BidPending {
		t.Fatalf("expected pending, got %s", b.Status)
	}
	if !b.ExpiresAt.After(b.PriorityWindowEnd) {
		t.Fatalf("expiry %v must lie beyond the priority window %v", b.ExpiresAt, b.PriorityWindowEnd)
	}
}

func TestSubmitBid_AnyPositiveAmountWithoutFloor(t *testing.T) {
	f := newBidFixture(t, nil, nil)
	ctx := context.Background()

	if _, err := f.svc.SubmitBid(ctx, f.workerID, BidInput{JobID: f.job.ID, Amount: 1}); err != nil {
		t.Fatalf("expected minimal bid accepted without a floor, got %v", err)
	}
	_, err := f.svc.SubmitBid(ctx, f.workerID, BidInput{JobID: f.job.ID, Amount: 0})
	if !apperr.IsKind(err, apperr.KindAlreadyExists) {
		// The duplicate guard fires before amount validation for a second
		// bid; a fresh worker with amount 0 is the validation case.
		t.Fatalf("expected already-exists on second bid, got %v", err)
	}
}

func TestSubmitBid_RequiresCategorizedPostedJob(t *testing.T) {
	f := newBidFixture(t, nil, nil)
	ctx := context.Background()

	f.job.SubcategoryID = nil
	f.job.BroadcastingPhase = PhaseCategorizing
	if err := f.db.Save(f.job).Error; err != nil {
		t.Fatalf("unset subcategory: %v", err)
	}

	_, err := f.svc.SubmitBid(ctx, f.workerID, BidInput{JobID: f.job.ID, Amount: 100})
	if !apperr.IsKind(err, apperr.KindInvalidTransition) {
		t.Fatalf("expected invalid transition before categorization, got %v", err)
	}
}

func TestSubmitBid_RejectsBrokeWorker(t *testing.T) {
	f := newBidFixture(t, nil, nil)
	ctx := context.Background()

	broke := seedUser(t, f.db, "w2", models.RoleWorker, 0)
	_, err := f.svc.SubmitBid(ctx, broke, BidInput{JobID: f.job.ID, Amount: 100})
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected validation failure for zero balance, got %v", err)
	}
}

func TestAcceptBid_MatchesJobAndConvertsChat(t *testing.T) {
	f := newBidFixture(t, nil, nil)
	ctx := context.Background()

	// Worker already follows the category via their notification chat.
	nc, err := f.chatSvc.EnsureNotificationChat(ctx, f.workerID, f.job.CategoryID)
	if err != nil {
		t.Fatalf("ensure notification chat: %v", err)
	}

	b, err := f.svc.SubmitBid(ctx, f.workerID, BidInput{JobID: f.job.ID, Amount: 200})
	if err != nil {
		t.Fatalf("submit bid: %v", err)
	}
	if err := f.svc.AcceptBid(ctx, f.customerID, b.ID); err != nil {
		t.Fatalf("accept bid: %v", err)
	}

	j, err := f.svc.GetJob(ctx, f.job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if j.Status != StatusMatched {
		t.Fatalf("expected matched, got %s", j.Status)
	}
	if j.WorkerID == nil || *j.WorkerID != f.workerID {
		t.Fatalf("expected worker %d assigned, got %v", f.workerID, j.WorkerID)
	}
	if j.OnboardingCode == nil || len(*j.OnboardingCode) != 4 {
		t.Fatalf("expected 4-digit onboarding code, got %v", j.OnboardingCode)
	}

	// Exactly one conversation chat, and it is the converted notification
	// chat, not a new row.
	conv, err := f.chatSvc.Repo().FindConversationChat(ctx, j.ID)
	if err != nil {
		t.Fatalf("find conversation chat: %v", err)
	}
	if conv.ID != nc.ID {
		t.Fatalf("expected notification chat %d converted in place, got %d", nc.ID, conv.ID)
	}
	var convCount int64
	if err := f.db.Model(&chat.Chat{}).
		Where("job_id = ? AND customer_id IS NOT NULL AND worker_id IS NOT NULL", j.ID).
		Count(&convCount).Error; err != nil {
		t.Fatalf("count conversation chats: %v", err)
	}
	if convCount != 1 {
		t.Fatalf("expected exactly one conversation chat, got %d", convCount)
	}

	// Onboarding reminder chain started.
	found := false
	for _, task := range f.queue.delayed {
		if task.Type == tasks.TypeOnboardingReminder && task.JobID == j.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a delayed onboarding reminder, got %+v", f.queue.delayed)
	}

	// A second acceptance is a no-op conflict.
	if err := f.svc.AcceptBid(ctx, f.customerID, b.ID); !apperr.IsKind(err, apperr.KindInvalidTransition) {
		t.Fatalf("expected invalid transition on double accept, got %v", err)
	}
}

func TestAcceptBid_OnlyCustomer(t *testing.T) {
	f := newBidFixture(t, nil, nil)
	ctx := context.Background()

	b, err := f.svc.SubmitBid(ctx, f.workerID, BidInput{JobID: f.job.ID, Amount: 200})
	if err != nil {
		t.Fatalf("submit bid: %v", err)
	}
	if err := f.svc.AcceptBid(ctx, f.workerID, b.ID); !apperr.IsKind(err, apperr.KindAuthorization) {
		t.Fatalf("expected authorization failure, got %v", err)
	}
}

func TestRejectBid_TerminalOnce(t *testing.T) {
	f := newBidFixture(t, nil, nil)
	ctx := context.Background()

	b, err := f.svc.SubmitBid(ctx, f.workerID, BidInput{JobID: f.job.ID, Amount: 200})
	if err != nil {
		t.Fatalf("submit bid: %v", err)
	}
	if err := f.svc.RejectBid(ctx, f.customerID, b.ID); err != nil {
		t.Fatalf("reject bid: %v", err)
	}

	got, err := f.svc.repo.GetBid(ctx, b.ID)
	if err != nil {
		t.Fatalf("get bid: %v", err)
	}
	if got.Status != BidRejected {
		t.Fatalf("expected rejected, got %s", got.Status)
	}

	if err := f.svc.RejectBid(ctx, f.customerID, b.ID); !apperr.IsKind(err, apperr.KindInvalidTransition) {
		t.Fatalf("expected invalid transition on double reject, got %v", err)
	}
	if err := f.svc.AcceptBid(ctx, f.customerID, b.ID); !apperr.IsKind(err, apperr.KindInvalidTransition) {
		t.Fatalf("expected invalid transition accepting a rejected bid, got %v", err)
	}
}

func TestExpireStaleBids(t *testing.T) {
	f := newBidFixture(t, nil, nil)
	ctx := context.Background()

	if _, err := f.svc.SubmitBid(ctx, f.workerID, BidInput{JobID: f.job.ID, Amount: 200}); err != nil {
		t.Fatalf("submit bid: %v", err)
	}

	f.svc.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	n, err := f.svc.ExpireStaleBids(ctx)
	if err != nil {
		t.Fatalf("expire stale bids: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired bid, got %d", n)
	}

	bids, err := f.svc.repo.ListJobBids(ctx, f.job.ID)
	if err != nil {
		t.Fatalf("list bids: %v", err)
	}
	if len(bids) != 1 || bids[0].Status != BidRejected {
		t.Fatalf("expected the stale bid rejected, got %+v", bids)
	}
}
