package job

import (
	"context"
	"testing"

	"github.com/hirelocal/hirelocal/internal/apperr"
	"github.com/hirelocal/hirelocal/internal/chat"
	"github.com/hirelocal/hirelocal/internal/tasks"
)

// matchedFixture drives a bid fixture through acceptance so the job sits
// in matched with a conversation chat and an onboarding code.
func newMatchedFixture(t *testing.T) *bidFixture {
	t.Helper()
	f := newBidFixture(t, nil, nil)
	ctx := context.Background()

	if _, err := f.chatSvc.EnsureNotificationChat(ctx, f.workerID, f.job.CategoryID); err != nil {
		t.Fatalf("ensure notification chat: %v", err)
	}
	b, err := f.svc.SubmitBid(ctx, f.workerID, BidInput{JobID: f.job.ID, Amount: 200})
	if err != nil {
		t.Fatalf("submit bid: %v", err)
	}
	if err := f.svc.AcceptBid(ctx, f.customerID, b.ID); err != nil {
		t.Fatalf("accept bid: %v", err)
	}
	f.job, err = f.svc.GetJob(ctx, f.job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	return f
}

func TestEnsureCodes_Idempotent(t *testing.T) {
	f := newMatchedFixture(t)
	ctx := context.Background()

	first, err := f.svc.EnsureOnboardingCode(ctx, f.job.ID)
	if err != nil {
		t.Fatalf("ensure onboarding code: %v", err)
	}
	second, err := f.svc.EnsureOnboardingCode(ctx, f.job.ID)
	if err != nil {
		t.Fatalf("ensure onboarding code again: %v", err)
	}
	if first != second {
		t.Fatalf("onboarding code changed between calls: %q then %q", first, second)
	}
	if len(first) != 4 {
		t.Fatalf("expected 4-digit onboarding code, got %q", first)
	}

	c1, err := f.svc.EnsureCompletionCode(ctx, f.job.ID)
	if err != nil {
		t.Fatalf("ensure completion code: %v", err)
	}
	c2, err := f.svc.EnsureCompletionCode(ctx, f.job.ID)
	if err != nil {
		t.Fatalf("ensure completion code again: %v", err)
	}
	if c1 != c2 {
		t.Fatalf("completion code changed between calls: %q then %q", c1, c2)
	}
	if len(c1) != 6 {
		t.Fatalf("expected 6-digit completion code, got %q", c1)
	}
}

func TestValidateOnboardingCode_SchedulesActivation(t *testing.T) {
	f := newMatchedFixture(t)
	ctx := context.Background()

	err := f.svc.ValidateOnboardingCode(ctx, f.workerID, f.job.ID, "0000-wrong")
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected validation failure on wrong code, got %v", err)
	}

	stranger := uint64(9999)
	err = f.svc.ValidateOnboardingCode(ctx, stranger, f.job.ID, *f.job.OnboardingCode)
	if !apperr.IsKind(err, apperr.KindAuthorization) {
		t.Fatalf("expected authorization failure for unassigned worker, got %v", err)
	}

	// Whitespace around the code is tolerated.
	if err := f.svc.ValidateOnboardingCode(ctx, f.workerID, f.job.ID, "  "+*f.job.OnboardingCode+" "); err != nil {
		t.Fatalf("validate onboarding code: %v", err)
	}

	found := false
	for _, task := range f.queue.published {
		if task.Type == tasks.TypeActivateJob && task.JobID == f.job.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected activate task queued, got %+v", f.queue.published)
	}

	if err := f.svc.HandleTask(ctx, tasks.Task{Type: tasks.TypeActivateJob, JobID: f.job.ID}); err != nil {
		t.Fatalf("activate task: %v", err)
	}
	j, err := f.svc.GetJob(ctx, f.job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if j.Status != StatusInProgress {
		t.Fatalf("expected in_progress, got %s", j.Status)
	}
}

func TestCompletionTrigger_StartsCodeExchange(t *testing.T) {
	f := newMatchedFixture(t)
	ctx := context.Background()

	if err := f.svc.ValidateOnboardingCode(ctx, f.workerID, f.job.ID, *f.job.OnboardingCode); err != nil {
		t.Fatalf("validate onboarding code: %v", err)
	}
	if err := f.svc.HandleTask(ctx, tasks.Task{Type: tasks.TypeActivateJob, JobID: f.job.ID}); err != nil {
		t.Fatalf("activate: %v", err)
	}

	conv, err := f.chatSvc.Repo().FindConversationChat(ctx, f.job.ID)
	if err != nil {
		t.Fatalf("find conversation chat: %v", err)
	}

	msg, err := f.chatSvc.Send(ctx, conv.ID, f.workerID, chat.SendInput{Bubble: chat.BubbleText, Content: "*1#"})
	if err != nil {
		t.Fatalf("send trigger: %v", err)
	}
	if msg != nil {
		t.Fatalf("expected trigger swallowed, got message id=%d", msg.ID)
	}

	j, err := f.svc.GetJob(ctx, f.job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if j.CompletionCode == nil || len(*j.CompletionCode) != 6 {
		t.Fatalf("expected completion code generated, got %v", j.CompletionCode)
	}

	if _, err := f.chatSvc.Repo().FindJobBubble(ctx, j.ID, conv.ID, chat.BubbleCompletionCodeInput); err != nil {
		t.Fatalf("expected completion input bubble in conversation chat: %v", err)
	}
	if _, err := f.chatSvc.Repo().FindJobBubble(ctx, j.ID, j.ChatID, chat.BubbleSystemInstruction); err != nil {
		t.Fatalf("expected completion instruction in service chat: %v", err)
	}
}

func TestCompletionTrigger_IgnoredOutsideInProgress(t *testing.T) {
	f := newMatchedFixture(t)
	ctx := context.Background()

	conv, err := f.chatSvc.Repo().FindConversationChat(ctx, f.job.ID)
	if err != nil {
		t.Fatalf("find conversation chat: %v", err)
	}

	// Job is still matched: the trigger falls through as a plain message.
	msg, err := f.chatSvc.Send(ctx, conv.ID, f.workerID, chat.SendInput{Bubble: chat.BubbleText, Content: "*1#"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg == nil {
		t.Fatalf("expected trigger stored as an ordinary message before in_progress")
	}
}

func TestCompleteJob_ResetsChatsAndStartsRatings(t *testing.T) {
	f := newMatchedFixture(t)
	ctx := context.Background()

	if err := f.svc.ValidateOnboardingCode(ctx, f.workerID, f.job.ID, *f.job.OnboardingCode); err != nil {
		t.Fatalf("validate onboarding: %v", err)
	}
	if err := f.svc.HandleTask(ctx, tasks.Task{Type: tasks.TypeActivateJob, JobID: f.job.ID}); err != nil {
		t.Fatalf("activate: %v", err)
	}

	conv, err := f.chatSvc.Repo().FindConversationChat(ctx, f.job.ID)
	if err != nil {
		t.Fatalf("find conversation chat: %v", err)
	}
	if _, err := f.chatSvc.Send(ctx, conv.ID, f.workerID, chat.SendInput{Bubble: chat.BubbleText, Content: "*1#"}); err != nil {
		t.Fatalf("send trigger: %v", err)
	}

	j, err := f.svc.GetJob(ctx, f.job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if err := f.svc.ValidateCompletionCode(ctx, f.workerID, j.ID, *j.CompletionCode); err != nil {
		t.Fatalf("validate completion: %v", err)
	}
	if err := f.svc.HandleTask(ctx, tasks.Task{Type: tasks.TypeCompleteJob, JobID: j.ID}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	j, err = f.svc.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if j.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", j.Status)
	}

	// Conversation chat went back to a pristine notification chat.
	reset, err := f.chatSvc.Repo().GetChat(ctx, conv.ID)
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if !reset.IsNotification() || reset.JobID != nil {
		t.Fatalf("expected conversation reset to notification state, got %+v", reset)
	}
	svcChat, err := f.chatSvc.Repo().GetChat(ctx, j.ChatID)
	if err != nil {
		t.Fatalf("get service chat: %v", err)
	}
	if svcChat.JobID != nil {
		t.Fatalf("expected service chat unlinked, got job=%v", svcChat.JobID)
	}

	// One rating request per party.
	requests, err := f.chatSvc.Repo().ListJobBubbles(ctx, j.ID, chat.BubbleRatingRequest)
	if err != nil {
		t.Fatalf("list rating requests: %v", err)
	}
	if len(requests) != 2 {
		t.Fatalf("expected 2 rating requests, got %d", len(requests))
	}

	// Both ratings in, requests expire.
	if err := f.svc.SubmitRating(ctx, f.customerID, j.ID, 5, "great"); err != nil {
		t.Fatalf("customer rating: %v", err)
	}
	if err := f.svc.SubmitRating(ctx, f.customerID, j.ID, 4, "again"); !apperr.IsKind(err, apperr.KindAlreadyExists) {
		t.Fatalf("expected already-exists on duplicate rating, got %v", err)
	}
	if err := f.svc.SubmitRating(ctx, f.workerID, j.ID, 4, ""); err != nil {
		t.Fatalf("worker rating: %v", err)
	}

	requests, err = f.chatSvc.Repo().ListJobBubbles(ctx, j.ID, chat.BubbleRatingRequest)
	if err != nil {
		t.Fatalf("list rating requests: %v", err)
	}
	for _, r := range requests {
		if !r.Expired {
			t.Fatalf("expected rating request %d expired after both ratings", r.ID)
		}
	}
}

func TestSubmitRating_Preconditions(t *testing.T) {
	f := newMatchedFixture(t)
	ctx := context.Background()

	// Matched, not completed.
	if err := f.svc.SubmitRating(ctx, f.customerID, f.job.ID, 5, ""); !apperr.IsKind(err, apperr.KindInvalidTransition) {
		t.Fatalf("expected invalid transition before completion, got %v", err)
	}

	f.job.Status = StatusCompleted
	if err := f.db.Save(f.job).Error; err != nil {
		t.Fatalf("force complete: %v", err)
	}

	if err := f.svc.SubmitRating(ctx, f.customerID, f.job.ID, 0, ""); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected validation failure for 0 stars, got %v", err)
	}
	if err := f.svc.SubmitRating(ctx, 12345, f.job.ID, 5, ""); !apperr.IsKind(err, apperr.KindAuthorization) {
		t.Fatalf("expected authorization failure for third party, got %v", err)
	}
}
