package taskhistory

import (
	"context"
	"fmt"

	"taskhistory/internal/domain/history"
	"taskhistory/internal/infra/transcript"
	"taskhistory/internal/shared/logging"
)

// ReconstructTask recovers the metadata of one task directory. A stored item
// document wins; otherwise the transcript is replayed: the first message's
// text becomes the task, the last message's ts becomes the ts and every
// well-formed request-started payload adds to the usage totals. The workspace
// cannot be recovered and is always history.UnknownWorkspace.
func (s *Service) ReconstructTask(ctx context.Context, taskID string) (history.HistoryItem, error) {
	if err := history.ValidateID(taskID); err != nil {
		return history.HistoryItem{}, err
	}
	logger := logging.FromContext(ctx, s.logger)
	if item, ok := s.store.GetHistoryItem(ctx, taskID, false); ok {
		return item, nil
	}

	messages, err := s.transcripts.ReadMessages(ctx, taskID)
	if err != nil {
		return history.HistoryItem{}, fmt.Errorf("%w: %s: %w", history.ErrNotReconstructable, taskID, err)
	}
	if len(messages) == 0 {
		return history.HistoryItem{}, fmt.Errorf("%w: %s: empty transcript", history.ErrNotReconstructable, taskID)
	}
	first, last := messages[0], messages[len(messages)-1]
	if first.Text == "" {
		return history.HistoryItem{}, fmt.Errorf("%w: %s: first message has no text", history.ErrNotReconstructable, taskID)
	}
	if last.Ts <= 0 {
		return history.HistoryItem{}, fmt.Errorf("%w: %s: last message has no ts", history.ErrNotReconstructable, taskID)
	}

	var usage transcript.Usage
	for i, message := range messages {
		if message.Say != history.SayAPIRequestStarted {
			continue
		}
		parsed, ok := transcript.ParseUsage(message.Text)
		if !ok {
			logger.Debug("Skipping malformed request record %d of %s", i, taskID)
			continue
		}
		usage.Add(parsed)
	}

	size, err := s.sizer.Size(ctx, s.store.TaskDir(taskID))
	if err != nil {
		logger.Debug("Could not size task dir %s: %v", taskID, err)
		size = 0
	}

	return history.HistoryItem{
		ID:          taskID,
		Number:      1,
		Ts:          last.Ts,
		Task:        first.Text,
		TokensIn:    usage.TokensIn,
		TokensOut:   usage.TokensOut,
		CacheWrites: usage.CacheWrites,
		CacheReads:  usage.CacheReads,
		TotalCost:   usage.Cost,
		Size:        size,
		Workspace:   history.UnknownWorkspace,
	}, nil
}
