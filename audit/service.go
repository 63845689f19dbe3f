package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/kasuganosora/questkeeper/game/quest"
	"github.com/kasuganosora/questkeeper/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	queueSize     = 1024
	batchSize     = 100
	flushInterval = 2 * time.Second
)

// detail is the JSON payload stored with each audit row.
type detail struct {
	Progress int       `json:"progress,omitempty"`
	Required int       `json:"required,omitempty"`
	At       time.Time `json:"at"`
}

// Service records quest lifecycle events asynchronously in batches.
// It implements quest.Notifier.
type Service struct {
	db       *gorm.DB
	ch       chan *model.AuditLog
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	logger   *zap.Logger
}

// New creates a new audit Service and starts its background worker.
func New(db *gorm.DB, logger *zap.Logger) *Service {
	svc := &Service{
		db:     db,
		ch:     make(chan *model.AuditLog, queueSize),
		stopCh: make(chan struct{}),
		logger: logger,
	}
	svc.wg.Add(1)
	go svc.worker()
	return svc
}

// Notify enqueues one audit row for ev. It never blocks; entries are
// dropped when the queue is full.
func (svc *Service) Notify(_ context.Context, ev quest.Event) {
	raw, _ := json.Marshal(detail{Progress: ev.Progress, Required: ev.Required, At: ev.At})
	record := &model.AuditLog{
		PlayerID:  ev.PlayerID,
		QuestName: ev.QuestName,
		Action:    string(ev.Kind),
		Result:    string(ev.Result),
		Detail:    datatypes.JSON(raw),
	}
	if ev.RequirementID != 0 {
		id := ev.RequirementID
		record.RequirementID = &id
	}
	select {
	case <-svc.stopCh:
		return
	default:
	}
	select {
	case svc.ch <- record:
	default:
		svc.logger.Warn("audit channel full, dropping entry",
			zap.String("action", record.Action),
			zap.String("player_id", record.PlayerID))
	}
}

// Stop flushes remaining entries and shuts down the worker.
// It blocks until the worker goroutine has finished.
func (svc *Service) Stop(_ context.Context) {
	svc.stopOnce.Do(func() { close(svc.stopCh) })
	svc.wg.Wait()
}

func (svc *Service) worker() {
	defer svc.wg.Done()
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*model.AuditLog, 0, batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := svc.db.Create(&batch).Error; err != nil {
			svc.logger.Error("audit batch write failed", zap.Int("entries", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-svc.ch:
			batch = append(batch, entry)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-svc.stopCh:
			// Drain remaining entries.
			for {
				select {
				case entry := <-svc.ch:
					batch = append(batch, entry)
					if len(batch) >= batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// History returns the most recent audit rows of a player, newest first.
func (svc *Service) History(ctx context.Context, playerID string, limit int) ([]model.AuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows []model.AuditLog
	err := svc.db.WithContext(ctx).
		Where("uuid = ?", playerID).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
