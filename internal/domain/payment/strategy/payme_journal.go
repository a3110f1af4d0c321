package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"payorder/pkg/cache"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrTransactionNotFound 交易流水不存在
var ErrTransactionNotFound = errors.New("payme transaction not found")

// PaymeTransaction Payme 交易流水，PerformTransaction / CancelTransaction 只携带交易号，需要据此找回订单
type PaymeTransaction struct {
	ID          string `gorm:"primaryKey;type:varchar(64)" json:"id"`
	OrderID     uint64 `gorm:"not null" json:"order_id"`
	Amount      int64  `gorm:"not null" json:"amount"`
	State       int    `gorm:"not null" json:"state"`
	Time        int64  `gorm:"column:payme_time" json:"time"`
	CreateTime  int64  `gorm:"not null" json:"create_time"`
	PerformTime int64  `json:"perform_time"`
	CancelTime  int64  `json:"cancel_time"`
	Reason      *int   `json:"reason"`
}

func (PaymeTransaction) TableName() string {
	return "payme_transactions"
}

func (t *PaymeTransaction) createResult() gin.H {
	return gin.H{"create_time": t.CreateTime, "transaction": t.ID, "state": t.State}
}

func (t *PaymeTransaction) performResult() gin.H {
	return gin.H{"perform_time": t.PerformTime, "transaction": t.ID, "state": t.State}
}

func (t *PaymeTransaction) cancelResult() gin.H {
	return gin.H{"cancel_time": t.CancelTime, "transaction": t.ID, "state": t.State}
}

// isActive created 和 performed 的交易占用订单
func (t *PaymeTransaction) isActive() bool {
	return t.State == paymeStateCreated || t.State == paymeStatePerformed
}

// TransactionJournal 交易流水存储
type TransactionJournal interface {
	Get(ctx context.Context, id string) (*PaymeTransaction, error)
	// Create 仅在交易号不存在且订单没有进行中的交易时写入
	Create(ctx context.Context, txn *PaymeTransaction) (bool, error)
	Save(ctx context.Context, txn *PaymeTransaction) error
	// ActiveForOrder 订单当前占用中的交易，performed 优先
	ActiveForOrder(ctx context.Context, orderID uint64) (*PaymeTransaction, error)
	// Statement 按 create_time 升序列出 [from, to] 内创建的交易
	Statement(ctx context.Context, from, to int64) ([]PaymeTransaction, error)
}

type gormJournal struct {
	db *gorm.DB
}

// NewGormJournal 数据库交易流水，payme_transactions 上的部分唯一索引保证一个订单同时只有一笔进行中的交易
func NewGormJournal(db *gorm.DB) TransactionJournal {
	return &gormJournal{db: db}
}

func (j *gormJournal) Get(ctx context.Context, id string) (*PaymeTransaction, error) {
	var txn PaymeTransaction
	if err := j.db.WithContext(ctx).Where("id = ?", id).First(&txn).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("load payme transaction %s: %w", id, err)
	}
	return &txn, nil
}

// Create 交易号主键或订单唯一索引冲突时不写入
func (j *gormJournal) Create(ctx context.Context, txn *PaymeTransaction) (bool, error) {
	res := j.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(txn)
	if res.Error != nil {
		return false, fmt.Errorf("create payme transaction %s: %w", txn.ID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (j *gormJournal) Save(ctx context.Context, txn *PaymeTransaction) error {
	res := j.db.WithContext(ctx).Model(&PaymeTransaction{}).Where("id = ?", txn.ID).Updates(map[string]interface{}{
		"state":        txn.State,
		"perform_time": txn.PerformTime,
		"cancel_time":  txn.CancelTime,
		"reason":       txn.Reason,
	})
	if res.Error != nil {
		return fmt.Errorf("save payme transaction %s: %w", txn.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (j *gormJournal) ActiveForOrder(ctx context.Context, orderID uint64) (*PaymeTransaction, error) {
	var txn PaymeTransaction
	err := j.db.WithContext(ctx).
		Where("order_id = ? AND state IN ?", orderID, []int{paymeStateCreated, paymeStatePerformed}).
		Order("state DESC").
		First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("load active payme transaction for order %d: %w", orderID, err)
	}
	return &txn, nil
}

func (j *gormJournal) Statement(ctx context.Context, from, to int64) ([]PaymeTransaction, error) {
	var txns []PaymeTransaction
	err := j.db.WithContext(ctx).
		Where("create_time >= ? AND create_time <= ?", from, to).
		Order("create_time ASC").
		Find(&txns).Error
	if err != nil {
		return nil, fmt.Errorf("payme statement: %w", err)
	}
	return txns, nil
}

const paymeTxnKeyPrefix = "payme:txn:"

// cachedJournal 按交易号读穿透 Redis，数据库为准
type cachedJournal struct {
	store TransactionJournal
	cache cache.CacheService
	ttl   time.Duration
}

// NewCachedJournal 在 store 前加一层交易号缓存，缓存丢失只影响读取延迟
func NewCachedJournal(store TransactionJournal, c cache.CacheService, ttl time.Duration) TransactionJournal {
	return &cachedJournal{store: store, cache: c, ttl: ttl}
}

func (j *cachedJournal) Get(ctx context.Context, id string) (*PaymeTransaction, error) {
	var txn PaymeTransaction
	if err := j.cache.Get(ctx, paymeTxnKeyPrefix+id, &txn); err == nil {
		return &txn, nil
	}

	stored, err := j.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	j.put(ctx, stored)
	return stored, nil
}

func (j *cachedJournal) Create(ctx context.Context, txn *PaymeTransaction) (bool, error) {
	created, err := j.store.Create(ctx, txn)
	if err != nil || !created {
		return created, err
	}
	j.put(ctx, txn)
	return true, nil
}

func (j *cachedJournal) Save(ctx context.Context, txn *PaymeTransaction) error {
	if err := j.store.Save(ctx, txn); err != nil {
		return err
	}
	j.put(ctx, txn)
	return nil
}

func (j *cachedJournal) ActiveForOrder(ctx context.Context, orderID uint64) (*PaymeTransaction, error) {
	return j.store.ActiveForOrder(ctx, orderID)
}

func (j *cachedJournal) Statement(ctx context.Context, from, to int64) ([]PaymeTransaction, error) {
	return j.store.Statement(ctx, from, to)
}

// put 写缓存失败时删除旧值，避免读到过期状态
func (j *cachedJournal) put(ctx context.Context, txn *PaymeTransaction) {
	if err := j.cache.Set(ctx, paymeTxnKeyPrefix+txn.ID, txn, j.ttl); err != nil {
		_ = j.cache.Delete(ctx, paymeTxnKeyPrefix+txn.ID)
	}
}
