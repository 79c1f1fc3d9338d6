/*
media.go - Rewarded video claims

PURPOSE:
  Watching a rewarded video credits a fixed coin amount, once per video per
  account. As with missions, there is no claims table: the op id
  media_<videoID>_<accountID> makes the ledger entry the claim record.
*/
package media

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jamforge/coin-engine/ledger"
)

type Service struct {
	ledger *ledger.Service
	log    *zap.Logger
	reward int64
}

// NewService wires rewarded-video claims. reward is the coin amount per video.
func NewService(lsvc *ledger.Service, reward int64, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{ledger: lsvc, log: log, reward: reward}
}

// ClaimResult reports the outcome of a video reward claim.
type ClaimResult struct {
	VideoID        string
	Reward         int64
	Balance        int64
	AlreadyClaimed bool
}

// Claim credits the reward for one watched video. Claiming the same video
// again returns the recorded result with AlreadyClaimed set.
func (s *Service) Claim(ctx context.Context, accountID ledger.AccountID, videoID string) (*ClaimResult, error) {
	if videoID == "" {
		return nil, &ledger.InvalidOperationError{Field: "videoId", Detail: "must not be empty"}
	}

	res, err := s.ledger.ApplyDelta(ctx, ledger.ApplyRequest{
		AccountID: accountID,
		Delta:     s.reward,
		Reason:    ledger.ReasonMediaReward,
		OpID:      fmt.Sprintf("media_%s_%s", videoID, accountID),
		Metadata:  map[string]string{"video_id": videoID},
	})
	if err != nil {
		return nil, err
	}

	return &ClaimResult{
		VideoID:        videoID,
		Reward:         res.Entry.Delta,
		Balance:        res.Balance,
		AlreadyClaimed: res.Replayed,
	}, nil
}
