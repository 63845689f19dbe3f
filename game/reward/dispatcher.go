package reward

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/kasuganosora/questkeeper/cache"
	"github.com/kasuganosora/questkeeper/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvalidPayload is returned for a reward whose payload cannot be decoded.
var ErrInvalidPayload = errors.New("reward: invalid payload")

// ItemStack is one entry of an ITEMS payload.
type ItemStack struct {
	Material string `json:"material"`
	Amount   int    `json:"amount"`
}

// Dispatcher pays quest rewards into player statistics and inventory.
// Each (assignment, reward) pair is paid at most once: a receipt key is
// claimed with SetNX before the payout and released if the payout fails.
type Dispatcher struct {
	db         *gorm.DB
	cache      cache.Cache
	receiptTTL time.Duration
	logger     *zap.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(db *gorm.DB, c cache.Cache, receiptTTL time.Duration, logger *zap.Logger) *Dispatcher {
	if receiptTTL <= 0 {
		receiptTTL = 24 * time.Hour
	}
	return &Dispatcher{db: db, cache: c, receiptTTL: receiptTTL, logger: logger}
}

// ReceiptKey is the cache key guarding one payout.
func ReceiptKey(assignmentID, rewardID int64) string {
	return fmt.Sprintf("quest:reward:%d:%d", assignmentID, rewardID)
}

// Dispatch pays r to playerID for the given assignment.
func (d *Dispatcher) Dispatch(ctx context.Context, playerID string, assignmentID int64, r model.QuestReward) error {
	key := ReceiptKey(assignmentID, r.ID)
	ok, err := d.cache.SetNX(ctx, key, playerID, d.receiptTTL)
	if err != nil {
		return fmt.Errorf("reward: claim receipt: %w", err)
	}
	if !ok {
		d.logger.Debug("reward already paid", zap.String("receipt", key))
		return nil
	}

	err = d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return pay(tx, playerID, r)
	})
	if err != nil {
		_ = d.cache.Del(ctx, key)
		return fmt.Errorf("reward %d (%s): %w", r.ID, r.Kind, err)
	}
	d.logger.Info("reward paid",
		zap.String("player_id", playerID),
		zap.Int64("assignment_id", assignmentID),
		zap.Int64("reward_id", r.ID),
		zap.String("kind", string(r.Kind)))
	return nil
}

func pay(tx *gorm.DB, playerID string, r model.QuestReward) error {
	switch r.Kind {
	case model.RewardCoins:
		n, err := decodeCoins(r.Payload)
		if err != nil {
			return err
		}
		return addStatistic(tx, &model.PlayerStatistics{PlayerID: playerID, Coins: n}, "coins", n)
	case model.RewardExperience:
		x, err := decodeExperience(r.Payload)
		if err != nil {
			return err
		}
		return addStatistic(tx, &model.PlayerStatistics{PlayerID: playerID, Experience: x}, "experience", x)
	case model.RewardItems:
		stacks, err := DecodeItems(r.Payload)
		if err != nil {
			return err
		}
		rows := make([]model.PlayerItem, 0, len(stacks))
		for _, s := range stacks {
			rows = append(rows, model.PlayerItem{PlayerID: playerID, Material: s.Material, Amount: s.Amount, RewardID: r.ID})
		}
		return tx.Create(&rows).Error
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidPayload, r.Kind)
	}
}

// ValidatePayload checks that payload decodes as a reward of the given kind.
func ValidatePayload(kind model.RewardKind, payload string) error {
	var err error
	switch kind {
	case model.RewardCoins:
		_, err = decodeCoins(payload)
	case model.RewardExperience:
		_, err = decodeExperience(payload)
	case model.RewardItems:
		_, err = DecodeItems(payload)
	default:
		err = fmt.Errorf("%w: unknown kind %q", ErrInvalidPayload, kind)
	}
	return err
}

func decodeCoins(payload string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(payload), 10, 64)
	if err != nil || n <= 0 {
		return 0, ErrInvalidPayload
	}
	return n, nil
}

func decodeExperience(payload string) (float64, error) {
	x, err := strconv.ParseFloat(strings.TrimSpace(payload), 64)
	if err != nil || x <= 0 || math.IsNaN(x) || math.IsInf(x, 0) {
		return 0, ErrInvalidPayload
	}
	return x, nil
}

// addStatistic inserts the row or adds delta to column on conflict.
func addStatistic(tx *gorm.DB, row *model.PlayerStatistics, column string, delta interface{}) error {
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "uuid"}},
		DoUpdates: clause.Set{{
			Column: clause.Column{Name: column},
			Value:  gorm.Expr("player_statistics."+column+" + ?", delta),
		}},
	}).Create(row).Error
}

// DecodeItems parses an ITEMS payload: a JSON array of item stacks.
func DecodeItems(payload string) ([]ItemStack, error) {
	var stacks []ItemStack
	if err := json.Unmarshal([]byte(payload), &stacks); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if len(stacks) == 0 {
		return nil, ErrInvalidPayload
	}
	for i := range stacks {
		stacks[i].Material = strings.ToUpper(strings.TrimSpace(stacks[i].Material))
		if stacks[i].Material == "" || stacks[i].Amount <= 0 {
			return nil, ErrInvalidPayload
		}
	}
	return stacks, nil
}
