package job

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"

	"gorm.io/gorm"

	"github.com/hirelocal/hirelocal/internal/apperr"
	"github.com/hirelocal/hirelocal/internal/chat"
	"github.com/hirelocal/hirelocal/internal/models"
)

type VoteOutcome string

const (
	OutcomeWaiting  VoteOutcome = "waiting"
	OutcomeMajority VoteOutcome = "majority"
	OutcomeTie      VoteOutcome = "tie"
)

// VoteResult reports the state of categorization after one submission so
// callers can render live progress.
type VoteResult struct {
	Outcome   VoteOutcome    `json:"outcome"`
	WinnerIDs []uint64       `json:"winner_ids,omitempty"`
	Tally     map[uint64]int `json:"tally"`
	Threshold int            `json:"threshold"`
	VotesCast int            `json:"votes_cast"`
	GroupSize int            `json:"group_size"`
}

// majorityThreshold is strict >50% of the frozen group size: floor(g/2)+1.
func majorityThreshold(groupSize int) int {
	return groupSize/2 + 1
}

// SubmitCategorization records one categorizer's vote and recomputes the
// full tally. On a clear majority the job locks the winning subcategory
// and advances to bidding; a majority-level tie locks the tied set and
// fans out to every tied subcategory; otherwise the job keeps waiting.
func (s *Service) SubmitCategorization(ctx context.Context, workerID uint64, jobID string, subcategoryID uint64) (*VoteResult, error) {
	j, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.Status == StatusCancelled {
		return nil, apperr.InvalidTransition("job %s is cancelled", j.ID)
	}
	if j.Categorized() {
		return nil, apperr.InvalidTransition("job %s is already categorized", j.ID)
	}
	if j.BroadcastingPhase != PhaseCategorizing {
		return nil, apperr.InvalidTransition("job %s is not in the categorizing phase", j.ID)
	}
	if !j.HasCategorizer(workerID) {
		return nil, apperr.Authorization("worker %d is not a categorizer for job %s", workerID, j.ID)
	}
	worker, err := s.repo.GetUser(ctx, workerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("worker %d not found", workerID)
		}
		return nil, err
	}
	if worker.Role != models.RoleWorker {
		return nil, apperr.Authorization("user %d is not a worker", workerID)
	}
	voted, err := s.repo.HasVote(ctx, jobID, workerID)
	if err != nil {
		return nil, err
	}
	if voted {
		return nil, apperr.AlreadyExists("worker %d already voted on job %s", workerID, j.ID)
	}
	isChild, err := s.repo.IsSubcategoryOf(ctx, subcategoryID, j.CategoryID)
	if err != nil {
		return nil, err
	}
	if !isChild {
		return nil, apperr.Validation("subcategory %d is not a child of category %d", subcategoryID, j.CategoryID)
	}

	// Insert and tally inside one transaction: the tally is recomputed
	// from all persisted votes, not incremented, and the unique index on
	// (job_id, worker_id) is the backstop against a concurrent re-vote.
	var result *VoteResult
	err = s.repo.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txRepo := NewRepo(tx)
		if err := tx.Create(&Vote{JobID: j.ID, WorkerID: workerID, SubcategoryID: subcategoryID}).Error; err != nil {
			return err
		}
		votes, err := txRepo.ListVotes(ctx, j.ID)
		if err != nil {
			return err
		}
		result = decide(j, votes)

		if result.Outcome == OutcomeWaiting {
			return nil
		}
		if result.Outcome == OutcomeMajority {
			winner := result.WinnerIDs[0]
			j.SubcategoryID = &winner
		} else {
			j.TiedSubcategoryIDs = encodeIDs(result.WinnerIDs)
		}
		j.BroadcastingPhase = PhaseBidding
		return txRepo.SaveJob(ctx, j)
	})
	if err != nil {
		return nil, err
	}

	// Bubble bookkeeping and fan-out are best-effort side effects of a
	// committed vote.
	s.updateVoterBubble(ctx, j, workerID, subcategoryID, result)
	if result.Outcome != OutcomeWaiting {
		s.updateCategorizerBubbles(ctx, j, result)
		s.broadcastBidding(ctx, j, result.WinnerIDs)
	}
	return result, nil
}

// decide applies the majority rule to a fresh tally. groupSize falls back
// to the frozen worker set length when the recorded size is unset.
func decide(j *Job, votes []Vote) *VoteResult {
	groupSize := j.CategorizerGroupSize
	if groupSize <= 0 {
		groupSize = len(j.CategorizerSet())
	}
	threshold := majorityThreshold(groupSize)

	tally := make(map[uint64]int)
	for _, v := range votes {
		tally[v.SubcategoryID]++
	}

	maxVotes := 0
	for _, n := range tally {
		if n > maxVotes {
			maxVotes = n
		}
	}
	var top []uint64
	for subID, n := range tally {
		if n == maxVotes {
			top = append(top, subID)
		}
	}
	sort.Slice(top, func(a, b int) bool { return top[a] < top[b] })

	res := &VoteResult{
		Outcome:   OutcomeWaiting,
		Tally:     tally,
		Threshold: threshold,
		VotesCast: len(votes),
		GroupSize: groupSize,
	}
	if maxVotes < threshold {
		return res
	}
	res.WinnerIDs = top
	if len(top) == 1 {
		res.Outcome = OutcomeMajority
	} else {
		res.Outcome = OutcomeTie
	}
	return res
}

// updateVoterBubble refreshes the voting worker's own worker_job
// broadcast bubble with their vote and the live tally.
func (s *Service) updateVoterBubble(ctx context.Context, j *Job, workerID, subcategoryID uint64, res *VoteResult) {
	repo := s.chats.Repo()
	nc, err := repo.FindNotificationChat(ctx, workerID, j.CategoryID)
	if err != nil {
		return
	}
	msg, err := repo.FindJobBubble(ctx, j.ID, nc.ID, chat.BubbleWorkerJob)
	if err != nil {
		return
	}
	meta, err := chat.DecodeMetadata(msg.Metadata)
	if err != nil || meta.Job == nil {
		return
	}
	vote := subcategoryID
	meta.Job.MyVote = &vote
	applyProgress(meta.Job, j, res)
	raw, err := meta.JSON()
	if err != nil {
		return
	}
	if err := repo.UpdateMessageMetadata(ctx, msg.ID, raw); err != nil {
		log.Printf("job=%s voter bubble update failed worker=%d err=%v", j.ID, workerID, err)
	}
}

// updateCategorizerBubbles pushes the final outcome into every
// categorizer's broadcast bubble.
func (s *Service) updateCategorizerBubbles(ctx context.Context, j *Job, res *VoteResult) {
	repo := s.chats.Repo()
	for _, workerID := range j.CategorizerSet() {
		nc, err := repo.FindNotificationChat(ctx, workerID, j.CategoryID)
		if err != nil {
			continue
		}
		msg, err := repo.FindJobBubble(ctx, j.ID, nc.ID, chat.BubbleWorkerJob)
		if err != nil {
			continue
		}
		meta, err := chat.DecodeMetadata(msg.Metadata)
		if err != nil || meta.Job == nil {
			continue
		}
		applyProgress(meta.Job, j, res)
		raw, err := meta.JSON()
		if err != nil {
			continue
		}
		if err := repo.UpdateMessageMetadata(ctx, msg.ID, raw); err != nil {
			log.Printf("job=%s categorizer bubble update failed worker=%d err=%v", j.ID, workerID, err)
		}
	}
}

func applyProgress(data *chat.JobData, j *Job, res *VoteResult) {
	counts := make(map[string]int, len(res.Tally))
	for subID, n := range res.Tally {
		counts[fmt.Sprintf("%d", subID)] = n
	}
	data.VoteCounts = counts
	data.VotesCast = res.VotesCast
	data.VoteThreshold = res.Threshold
	data.Status = string(j.Status)
	data.Phase = j.BroadcastingPhase
	data.SubcategoryID = j.SubcategoryID
	if res.Outcome != OutcomeWaiting {
		data.Decided = true
		data.WinnerIDs = res.WinnerIDs
	}
}
