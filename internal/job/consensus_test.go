package job

import (
	"context"
	"testing"

	"gorm.io/gorm"

	"github.com/hirelocal/hirelocal/internal/apperr"
	"github.com/hirelocal/hirelocal/internal/chat"
	"github.com/hirelocal/hirelocal/internal/models"
)

// voteFixture wires a job frozen in the categorizing phase with a real
// worker group and a two-subcategory tree.
type voteFixture struct {
	svc     *Service
	chatSvc *chat.Service
	db      *gorm.DB

	job     *Job
	workers []uint64
	subA    uint64
	subB    uint64
}

func newVoteFixture(t *testing.T, groupSize int) *voteFixture {
	t.Helper()
	svc, chatSvc, _, db := newTestService(t, groupSize)
	ctx := context.Background()

	customerID := seedUser(t, db, "c1", models.RoleCustomer, 0)
	catID := seedCategory(t, db, "plumbing", nil)
	subA := seedCategory(t, db, "taps", &catID)
	subB := seedCategory(t, db, "boilers", &catID)

	workers := make([]uint64, 0, groupSize)
	for i := 0; i < groupSize; i++ {
		wid := seedUser(t, db, "w"+string(rune('a'+i)), models.RoleWorker, 100)
		seedSkill(t, db, wid, catID, false)
		workers = append(workers, wid)
	}

	c := seedServiceChatWithRequest(t, chatSvc, customerID, catID)
	j, err := svc.CreateFromChat(ctx, customerID, CreateInput{ChatID: c.ID, Consent: true})
	if err != nil {
		t.Fatalf("create from chat: %v", err)
	}
	if err := svc.AssignCategorizers(ctx, j.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	j, err = svc.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if len(j.CategorizerSet()) != groupSize {
		t.Fatalf("fixture expected group of %d, got %v", groupSize, j.CategorizerSet())
	}

	return &voteFixture{svc: svc, chatSvc: chatSvc, db: db, job: j, workers: j.CategorizerSet(), subA: subA, subB: subB}
}

func TestMajorityThreshold(t *testing.T) {
	cases := []struct{ group, want int }{
		{1, 1}, {2, 2}, {3, 2}, {4, 3}, {5, 3}, {6, 4}, {7, 4},
	}
	for _, c := range cases {
		if got := majorityThreshold(c.group); got != c.want {
			t.Errorf("majorityThreshold(%d) = %d, want %d", c.group, got, c.want)
		}
	}
}

func TestSubmitCategorization_MajorityAtExactThreshold(t *testing.T) {
	f := newVoteFixture(t, 5)
	ctx := context.Background()

	// Threshold for 5 is 3: two concurring votes must not decide.
	for i := 0; i < 2; i++ {
		res, err := f.svc.SubmitCategorization(ctx, f.workers[i], f.job.ID, f.subA)
		if err != nil {
			t.Fatalf("vote %d: %v", i, err)
		}
		if res.Outcome != OutcomeWaiting {
			t.Fatalf("vote %d: expected waiting, got %s", i, res.Outcome)
		}
	}

	res, err := f.svc.SubmitCategorization(ctx, f.workers[2], f.job.ID, f.subA)
	if err != nil {
		t.Fatalf("deciding vote: %v", err)
	}
	if res.Outcome != OutcomeMajority {
		t.Fatalf("expected majority at threshold, got %s (tally=%v)", res.Outcome, res.Tally)
	}
	if len(res.WinnerIDs) != 1 || res.WinnerIDs[0] != f.subA {
		t.Fatalf("unexpected winners %v", res.WinnerIDs)
	}

	j, err := f.svc.GetJob(ctx, f.job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if j.SubcategoryID == nil || *j.SubcategoryID != f.subA {
		t.Fatalf("expected subcategory locked to %d, got %v", f.subA, j.SubcategoryID)
	}
	if j.BroadcastingPhase != PhaseBidding {
		t.Fatalf("expected phase 2 after decision, got %d", j.BroadcastingPhase)
	}

	// Phase 2 closes voting.
	_, err = f.svc.SubmitCategorization(ctx, f.workers[3], f.job.ID, f.subB)
	if !apperr.IsKind(err, apperr.KindInvalidTransition) {
		t.Fatalf("expected invalid transition after decision, got %v", err)
	}
}

func TestSubmitCategorization_EvenSplitKeepsWaiting(t *testing.T) {
	f := newVoteFixture(t, 4)
	ctx := context.Background()

	// 2-2 of 4: maxVotes 2 is below threshold 3, so no decision even with
	// the full group heard.
	picks := []uint64{f.subA, f.subA, f.subB, f.subB}
	var last *VoteResult
	for i, sub := range picks {
		res, err := f.svc.SubmitCategorization(ctx, f.workers[i], f.job.ID, sub)
		if err != nil {
			t.Fatalf("vote %d: %v", i, err)
		}
		last = res
	}
	if last.Outcome != OutcomeWaiting {
		t.Fatalf("expected waiting on 2-2 split, got %s", last.Outcome)
	}
	if last.VotesCast != 4 || last.Threshold != 3 {
		t.Fatalf("unexpected progress votes=%d threshold=%d", last.VotesCast, last.Threshold)
	}

	j, err := f.svc.GetJob(ctx, f.job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if j.Categorized() {
		t.Fatalf("expected job still uncategorized, got sub=%v tied=%v", j.SubcategoryID, j.TiedSet())
	}
	if j.BroadcastingPhase != PhaseCategorizing {
		t.Fatalf("expected phase 1, got %d", j.BroadcastingPhase)
	}
}

func TestSubmitCategorization_DuplicateVoteCountedOnce(t *testing.T) {
	f := newVoteFixture(t, 5)
	ctx := context.Background()

	if _, err := f.svc.SubmitCategorization(ctx, f.workers[0], f.job.ID, f.subA); err != nil {
		t.Fatalf("first vote: %v", err)
	}
	_, err := f.svc.SubmitCategorization(ctx, f.workers[0], f.job.ID, f.subB)
	if !apperr.IsKind(err, apperr.KindAlreadyExists) {
		t.Fatalf("expected already-exists on re-vote, got %v", err)
	}

	var cnt int64
	if err := f.db.Model(&Vote{}).Where("job_id = ? AND worker_id = ?", f.job.ID, f.workers[0]).Count(&cnt).Error; err != nil {
		t.Fatalf("count votes: %v", err)
	}
	if cnt != 1 {
		t.Fatalf("expected exactly one stored vote, got %d", cnt)
	}
}

func TestSubmitCategorization_RejectsOutsiders(t *testing.T) {
	f := newVoteFixture(t, 3)
	ctx := context.Background()

	outsider := seedUser(t, f.db, "outsider", models.RoleWorker, 100)
	_, err := f.svc.SubmitCategorization(ctx, outsider, f.job.ID, f.subA)
	if !apperr.IsKind(err, apperr.KindAuthorization) {
		t.Fatalf("expected authorization failure for non-member, got %v", err)
	}
}

func TestSubmitCategorization_RejectsForeignSubcategory(t *testing.T) {
	f := newVoteFixture(t, 3)
	ctx := context.Background()

	otherParent := seedCategory(t, f.db, "gardening", nil)
	foreign := seedCategory(t, f.db, "hedges", &otherParent)

	_, err := f.svc.SubmitCategorization(ctx, f.workers[0], f.job.ID, foreign)
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected validation failure for foreign subcategory, got %v", err)
	}
}

func TestSubmitCategorization_UpdatesVoterBubble(t *testing.T) {
	f := newVoteFixture(t, 3)
	ctx := context.Background()

	if _, err := f.svc.SubmitCategorization(ctx, f.workers[0], f.job.ID, f.subA); err != nil {
		t.Fatalf("vote: %v", err)
	}

	repo := f.chatSvc.Repo()
	nc, err := repo.FindNotificationChat(ctx, f.workers[0], f.job.CategoryID)
	if err != nil {
		t.Fatalf("find notification chat: %v", err)
	}
	msg, err := repo.FindJobBubble(ctx, f.job.ID, nc.ID, chat.BubbleWorkerJob)
	if err != nil {
		t.Fatalf("find bubble: %v", err)
	}
	meta, err := chat.DecodeMetadata(msg.Metadata)
	if err != nil || meta.Job == nil {
		t.Fatalf("decode metadata: %v (%+v)", err, meta)
	}
	if meta.Job.MyVote == nil || *meta.Job.MyVote != f.subA {
		t.Fatalf("expected my_vote=%d, got %v", f.subA, meta.Job.MyVote)
	}
	if meta.Job.VotesCast != 1 || meta.Job.VoteThreshold != 2 {
		t.Fatalf("unexpected progress %+v", meta.Job)
	}
}

func TestSubmitCategorization_DecisionUpdatesAllBubbles(t *testing.T) {
	f := newVoteFixture(t, 3)
	ctx := context.Background()

	if _, err := f.svc.SubmitCategorization(ctx, f.workers[0], f.job.ID, f.subA); err != nil {
		t.Fatalf("vote 0: %v", err)
	}
	res, err := f.svc.SubmitCategorization(ctx, f.workers[1], f.job.ID, f.subA)
	if err != nil {
		t.Fatalf("vote 1: %v", err)
	}
	if res.Outcome != OutcomeMajority {
		t.Fatalf("expected majority at 2 of 3, got %s", res.Outcome)
	}

	repo := f.chatSvc.Repo()
	for _, wid := range f.workers {
		nc, err := repo.FindNotificationChat(ctx, wid, f.job.CategoryID)
		if err != nil {
			t.Fatalf("worker %d notification chat: %v", wid, err)
		}
		msg, err := repo.FindJobBubble(ctx, f.job.ID, nc.ID, chat.BubbleWorkerJob)
		if err != nil {
			t.Fatalf("worker %d bubble: %v", wid, err)
		}
		meta, err := chat.DecodeMetadata(msg.Metadata)
		if err != nil || meta.Job == nil {
			t.Fatalf("worker %d metadata: %v", wid, err)
		}
		if !meta.Job.Decided {
			t.Fatalf("worker %d bubble not marked decided: %+v", wid, meta.Job)
		}
	}
}
