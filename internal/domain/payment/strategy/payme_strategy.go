package strategy

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"payorder/internal/domain/payment/model"
	"payorder/internal/pkg/config"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	paymeCheckoutURL     = "https://checkout.paycom.uz"
	paymeTestCheckoutURL = "https://test.paycom.uz"
	paymeAuthUser        = "Paycom"
)

// Payme 交易状态
const (
	paymeStateCreated               = 1
	paymeStatePerformed             = 2
	paymeStateCancelled             = -1
	paymeStateCancelledAfterPerform = -2
)

const (
	// paymeTransactionTimeout 未完成的交易超过 12 小时由商户侧撤销
	paymeTransactionTimeout = 12 * time.Hour
	paymeReasonTimeout      = 4
)

// Payme JSON-RPC 错误码
const (
	paymeErrInternal            = -32400
	paymeErrAuth                = -32504
	paymeErrParse               = -32700
	paymeErrInvalidRequest      = -32600
	paymeErrMethodNotFound      = -32601
	paymeErrInvalidAmount       = -31001
	paymeErrTransactionNotFound = -31003
	paymeErrCannotCancel        = -31007
	paymeErrCannotPerform       = -31008
	paymeErrOrderNotFound       = -31050
	paymeErrOrderBusy           = -31099
)

// PaymeStrategy Payme 商户 API 适配（链接生成 + JSON-RPC 回调）
type PaymeStrategy struct {
	config  config.PaymeConfig
	journal TransactionJournal
	logger  *zap.Logger
	now     func() time.Time
}

func NewPaymeStrategy(cfg config.PaymeConfig, journal TransactionJournal, logger *zap.Logger) (*PaymeStrategy, error) {
	if cfg.MerchantID == "" || cfg.ActiveKey() == "" {
		return nil, errors.New("payme config missing")
	}
	return &PaymeStrategy{
		config:  cfg,
		journal: journal,
		logger:  logger,
		now:     time.Now,
	}, nil
}

func (s *PaymeStrategy) Name() string {
	return config.ChannelPayme
}

// CreateLink 生成 checkout 链接：base64("m=<merchant>;ac.order_id=<id>;a=<tiyin>;c=<return_url>")
func (s *PaymeStrategy) CreateLink(ctx context.Context, p LinkParams) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if p.AmountMinor <= 0 {
		return "", fmt.Errorf("payme: invalid amount %d", p.AmountMinor)
	}

	parts := []string{
		"m=" + s.config.MerchantID,
		"ac.order_id=" + strconv.FormatUint(p.OrderID, 10),
		"a=" + strconv.FormatInt(p.AmountMinor, 10),
	}
	returnURL := p.ReturnURL
	if returnURL == "" {
		returnURL = s.config.ReturnURL
	}
	if returnURL != "" {
		parts = append(parts, "c="+returnURL)
	}

	base := paymeCheckoutURL
	if s.config.IsTestMode {
		base = paymeTestCheckoutURL
	}
	return base + "/" + base64.StdEncoding.EncodeToString([]byte(strings.Join(parts, ";"))), nil
}

type paymeRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params paymeParams     `json:"params"`
}

type paymeParams struct {
	ID      string `json:"id"`
	Time    int64  `json:"time"`
	Amount  int64  `json:"amount"`
	Reason  *int   `json:"reason"`
	From    int64  `json:"from"`
	To      int64  `json:"to"`
	Account struct {
		OrderID json.Number `json:"order_id"`
	} `json:"account"`
}

type paymeError struct {
	Code    int               `json:"code"`
	Message map[string]string `json:"message"`
	Data    string            `json:"data,omitempty"`
}

type paymeResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *paymeError     `json:"error,omitempty"`
}

func newPaymeError(code int, msg, data string) *paymeError {
	return &paymeError{
		Code:    code,
		Message: map[string]string{"en": msg, "ru": msg, "uz": msg},
		Data:    data,
	}
}

// ServeNotify Payme 约定所有应答均为 HTTP 200，失败通过 JSON-RPC error 表达
func (s *PaymeStrategy) ServeNotify(c *gin.Context, reconcile ReconcileFunc) {
	var req paymeRequest

	if !s.authorized(c.GetHeader("Authorization")) {
		_ = json.NewDecoder(c.Request.Body).Decode(&req)
		s.reply(c, req.ID, nil, newPaymeError(paymeErrAuth, "insufficient privileges", ""))
		return
	}

	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		s.reply(c, nil, nil, newPaymeError(paymeErrParse, "parse error", ""))
		return
	}
	if req.Method == "" {
		s.reply(c, req.ID, nil, newPaymeError(paymeErrInvalidRequest, "invalid request", ""))
		return
	}

	ctx := c.Request.Context()
	var (
		result interface{}
		rpcErr *paymeError
	)
	switch req.Method {
	case "CheckPerformTransaction":
		result, rpcErr = s.checkPerform(ctx, req.Params, reconcile)
	case "CreateTransaction":
		result, rpcErr = s.createTransaction(ctx, req.Params, reconcile)
	case "PerformTransaction":
		result, rpcErr = s.performTransaction(ctx, req.Params, reconcile)
	case "CancelTransaction":
		result, rpcErr = s.cancelTransaction(ctx, req.Params, reconcile)
	case "CheckTransaction":
		result, rpcErr = s.checkTransaction(ctx, req.Params)
	case "GetStatement":
		result, rpcErr = s.getStatement(ctx, req.Params)
	default:
		rpcErr = newPaymeError(paymeErrMethodNotFound, "method not found", req.Method)
	}

	if rpcErr != nil {
		s.logger.Warn("payme request rejected",
			zap.String("method", req.Method),
			zap.String("transaction_id", req.Params.ID),
			zap.Int("code", rpcErr.Code),
		)
	}
	s.reply(c, req.ID, result, rpcErr)
}

func (s *PaymeStrategy) reply(c *gin.Context, id json.RawMessage, result interface{}, rpcErr *paymeError) {
	c.JSON(http.StatusOK, paymeResponse{JSONRPC: "2.0", ID: id, Result: result, Error: rpcErr})
}

func (s *PaymeStrategy) authorized(header string) bool {
	const prefix = "Basic "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false
	}
	user, password, ok := strings.Cut(string(raw), ":")
	if !ok || user != paymeAuthUser {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(s.config.ActiveKey())) == 1
}

func (s *PaymeStrategy) checkPerform(ctx context.Context, p paymeParams, reconcile ReconcileFunc) (interface{}, *paymeError) {
	orderID, rpcErr := parseAccount(p)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if rpcErr := s.checkOrder(ctx, orderID, p, reconcile); rpcErr != nil {
		return nil, rpcErr
	}
	return gin.H{"allow": true}, nil
}

func (s *PaymeStrategy) createTransaction(ctx context.Context, p paymeParams, reconcile ReconcileFunc) (interface{}, *paymeError) {
	if p.ID == "" {
		return nil, newPaymeError(paymeErrInvalidRequest, "transaction id is required", "id")
	}

	existing, err := s.journal.Get(ctx, p.ID)
	switch {
	case err == nil:
		if existing.State != paymeStateCreated {
			return nil, newPaymeError(paymeErrCannotPerform, "transaction is not active", p.ID)
		}
		if s.expired(existing) {
			return nil, s.expire(ctx, existing, reconcile)
		}
		return existing.createResult(), nil
	case !errors.Is(err, ErrTransactionNotFound):
		return nil, s.internal(err)
	}

	orderID, rpcErr := parseAccount(p)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if rpcErr := s.checkOrder(ctx, orderID, p, reconcile); rpcErr != nil {
		return nil, rpcErr
	}
	if _, err := s.journal.ActiveForOrder(ctx, orderID); err == nil {
		return nil, newPaymeError(paymeErrOrderBusy, "another transaction is in progress for this order", "order_id")
	} else if !errors.Is(err, ErrTransactionNotFound) {
		return nil, s.internal(err)
	}

	txn := &PaymeTransaction{
		ID:         p.ID,
		OrderID:    orderID,
		Amount:     p.Amount,
		State:      paymeStateCreated,
		Time:       p.Time,
		CreateTime: s.now().UnixMilli(),
	}
	created, err := s.journal.Create(ctx, txn)
	if err != nil {
		return nil, s.internal(err)
	}
	if !created {
		// 同一交易号并发写入时返回已有流水，否则订单已被另一笔交易占用
		existing, err := s.journal.Get(ctx, p.ID)
		switch {
		case err == nil:
			return existing.createResult(), nil
		case errors.Is(err, ErrTransactionNotFound):
			return nil, newPaymeError(paymeErrOrderBusy, "another transaction is in progress for this order", "order_id")
		}
		return nil, s.internal(err)
	}
	return txn.createResult(), nil
}

func (s *PaymeStrategy) performTransaction(ctx context.Context, p paymeParams, reconcile ReconcileFunc) (interface{}, *paymeError) {
	txn, rpcErr := s.loadTransaction(ctx, p.ID)
	if rpcErr != nil {
		return nil, rpcErr
	}

	switch txn.State {
	case paymeStatePerformed:
		return txn.performResult(), nil
	case paymeStateCreated:
	default:
		return nil, newPaymeError(paymeErrCannotPerform, "transaction is cancelled", txn.ID)
	}
	if s.expired(txn) {
		return nil, s.expire(ctx, txn, reconcile)
	}

	// 订单只能由占用它的那一笔交易完成支付
	active, err := s.journal.ActiveForOrder(ctx, txn.OrderID)
	switch {
	case err == nil && active.ID != txn.ID:
		return nil, newPaymeError(paymeErrCannotPerform, "order belongs to another transaction", txn.ID)
	case err != nil && !errors.Is(err, ErrTransactionNotFound):
		return nil, s.internal(err)
	}

	_, err = reconcile(ctx, model.Notification{
		Channel:       s.Name(),
		TransactionID: txn.ID,
		OrderID:       txn.OrderID,
		Event:         model.EventSucceeded,
		AmountMinor:   txn.Amount,
	})
	if err != nil {
		return nil, s.mapReconcileError(err, txn.ID)
	}

	txn.State = paymeStatePerformed
	txn.PerformTime = s.now().UnixMilli()
	if err := s.journal.Save(ctx, txn); err != nil {
		return nil, s.internal(err)
	}
	return txn.performResult(), nil
}

func (s *PaymeStrategy) cancelTransaction(ctx context.Context, p paymeParams, reconcile ReconcileFunc) (interface{}, *paymeError) {
	txn, rpcErr := s.loadTransaction(ctx, p.ID)
	if rpcErr != nil {
		return nil, rpcErr
	}

	switch txn.State {
	case paymeStateCancelled, paymeStateCancelledAfterPerform:
		return txn.cancelResult(), nil
	case paymeStatePerformed:
		// 支付完成后的撤销等同退款，不支持
		return nil, newPaymeError(paymeErrCannotCancel, "order is already paid", txn.ID)
	}

	_, err := reconcile(ctx, model.Notification{
		Channel:       s.Name(),
		TransactionID: txn.ID,
		OrderID:       txn.OrderID,
		Event:         model.EventCancelled,
	})
	if err != nil {
		return nil, s.mapReconcileError(err, txn.ID)
	}

	txn.State = paymeStateCancelled
	txn.CancelTime = s.now().UnixMilli()
	txn.Reason = p.Reason
	if err := s.journal.Save(ctx, txn); err != nil {
		return nil, s.internal(err)
	}
	return txn.cancelResult(), nil
}

func (s *PaymeStrategy) checkTransaction(ctx context.Context, p paymeParams) (interface{}, *paymeError) {
	txn, rpcErr := s.loadTransaction(ctx, p.ID)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return gin.H{
		"create_time":  txn.CreateTime,
		"perform_time": txn.PerformTime,
		"cancel_time":  txn.CancelTime,
		"transaction":  txn.ID,
		"state":        txn.State,
		"reason":       txn.Reason,
	}, nil
}

// getStatement 返回 [from, to] 内创建的交易，供 Payme 对账
func (s *PaymeStrategy) getStatement(ctx context.Context, p paymeParams) (interface{}, *paymeError) {
	if p.From > p.To {
		return nil, newPaymeError(paymeErrInvalidRequest, "from must not be after to", "from")
	}
	txns, err := s.journal.Statement(ctx, p.From, p.To)
	if err != nil {
		return nil, s.internal(err)
	}

	list := make([]gin.H, 0, len(txns))
	for _, txn := range txns {
		list = append(list, gin.H{
			"id":           txn.ID,
			"time":         txn.Time,
			"amount":       txn.Amount,
			"account":      gin.H{"order_id": strconv.FormatUint(txn.OrderID, 10)},
			"create_time":  txn.CreateTime,
			"perform_time": txn.PerformTime,
			"cancel_time":  txn.CancelTime,
			"transaction":  txn.ID,
			"state":        txn.State,
			"reason":       txn.Reason,
		})
	}
	return gin.H{"transactions": list}, nil
}

func (s *PaymeStrategy) expired(txn *PaymeTransaction) bool {
	return s.now().UnixMilli()-txn.CreateTime > paymeTransactionTimeout.Milliseconds()
}

// expire 超时交易按 reason 4 撤销，订单随之取消，调用方得到 -31008
func (s *PaymeStrategy) expire(ctx context.Context, txn *PaymeTransaction, reconcile ReconcileFunc) *paymeError {
	_, err := reconcile(ctx, model.Notification{
		Channel:       s.Name(),
		TransactionID: txn.ID,
		OrderID:       txn.OrderID,
		Event:         model.EventCancelled,
	})
	if err != nil && !errors.Is(err, model.ErrConflict) && !errors.Is(err, model.ErrNotFound) {
		return s.mapReconcileError(err, txn.ID)
	}

	reason := paymeReasonTimeout
	txn.State = paymeStateCancelled
	txn.CancelTime = s.now().UnixMilli()
	txn.Reason = &reason
	if err := s.journal.Save(ctx, txn); err != nil {
		return s.internal(err)
	}
	s.logger.Info("payme transaction timed out", zap.String("transaction_id", txn.ID), zap.Uint64("order_id", txn.OrderID))
	return newPaymeError(paymeErrCannotPerform, "transaction timed out", txn.ID)
}

// checkOrder 订单必须存在、金额一致且仍可支付
func (s *PaymeStrategy) checkOrder(ctx context.Context, orderID uint64, p paymeParams, reconcile ReconcileFunc) *paymeError {
	order, err := reconcile(ctx, model.Notification{
		Channel:       s.Name(),
		TransactionID: p.ID,
		OrderID:       orderID,
		Event:         model.EventCheck,
		AmountMinor:   p.Amount,
	})
	if err != nil {
		return s.mapReconcileError(err, "order_id")
	}
	if order.Status != model.OrderStatusPending {
		return newPaymeError(paymeErrCannotPerform, "order is "+string(order.Status), "order_id")
	}
	return nil
}

func (s *PaymeStrategy) loadTransaction(ctx context.Context, id string) (*PaymeTransaction, *paymeError) {
	if id == "" {
		return nil, newPaymeError(paymeErrInvalidRequest, "transaction id is required", "id")
	}
	txn, err := s.journal.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			return nil, newPaymeError(paymeErrTransactionNotFound, "transaction not found", id)
		}
		return nil, s.internal(err)
	}
	return txn, nil
}

func (s *PaymeStrategy) mapReconcileError(err error, data string) *paymeError {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return newPaymeError(paymeErrOrderNotFound, "order not found", data)
	case errors.Is(err, model.ErrAmountMismatch):
		return newPaymeError(paymeErrInvalidAmount, "invalid amount", data)
	case errors.Is(err, model.ErrConflict):
		return newPaymeError(paymeErrCannotPerform, "order status conflict", data)
	case errors.Is(err, model.ErrValidation):
		return newPaymeError(paymeErrOrderNotFound, err.Error(), data)
	}
	return s.internal(err)
}

func (s *PaymeStrategy) internal(err error) *paymeError {
	s.logger.Error("payme internal error", zap.Error(err))
	return newPaymeError(paymeErrInternal, "internal error", "")
}

func parseAccount(p paymeParams) (uint64, *paymeError) {
	id, err := strconv.ParseUint(p.Account.OrderID.String(), 10, 64)
	if err != nil || id == 0 {
		return 0, newPaymeError(paymeErrOrderNotFound, "invalid order_id", "order_id")
	}
	return id, nil
}

var _ PaymentStrategy = (*PaymeStrategy)(nil)
