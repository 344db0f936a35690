package worker

import (
	"context"
	"log/slog"
	"time"

	"ziwei-chat/internal/domain"
)

const (
	defaultQueueSize = 256
	insertTimeout    = 10 * time.Second
)

// ConversationLogger drains finalized turns onto the conversation
// repository from a background goroutine. Record never blocks the response
// path: when the queue is full the turn is dropped and counted, not queued.
type ConversationLogger struct {
	repo     domain.ConversationRepository
	logger   *slog.Logger
	queue    chan *domain.ConversationLog
	stopChan chan struct{}
	doneChan chan struct{}
}

func NewConversationLogger(repo domain.ConversationRepository, logger *slog.Logger) *ConversationLogger {
	return &ConversationLogger{
		repo:     repo,
		logger:   logger,
		queue:    make(chan *domain.ConversationLog, defaultQueueSize),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

func (w *ConversationLogger) Start() {
	w.logger.Info("Starting ConversationLogger")
	go w.run()
}

// Stop drains the queue and waits for the worker goroutine to exit.
func (w *ConversationLogger) Stop() {
	w.logger.Info("Stopping ConversationLogger")
	close(w.stopChan)
	<-w.doneChan
}

// Record enqueues a finalized turn. Persistence failures are logged and
// swallowed; they never propagate to the user.
func (w *ConversationLogger) Record(log *domain.ConversationLog) {
	select {
	case w.queue <- log:
	default:
		w.logger.Warn("conversation log queue full, dropping turn",
			slog.String("conversation_id", log.ConversationID))
	}
}

func (w *ConversationLogger) run() {
	defer close(w.doneChan)
	for {
		select {
		case log := <-w.queue:
			w.persist(log)
		case <-w.stopChan:
			// Drain whatever is still queued before exiting.
			for {
				select {
				case log := <-w.queue:
					w.persist(log)
				default:
					return
				}
			}
		}
	}
}

func (w *ConversationLogger) persist(log *domain.ConversationLog) {
	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()

	if err := w.repo.Insert(ctx, log); err != nil {
		w.logger.Error("failed to persist conversation log",
			slog.String("conversation_id", log.ConversationID),
			slog.String("error", err.Error()))
	}
}
