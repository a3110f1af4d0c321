package strategy

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"payorder/internal/domain/payment/model"
	"payorder/internal/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testPaymeKey = "payme-secret"
	testNowMilli = int64(1700000000000)
)

// memoryJournal 内存交易流水
type memoryJournal struct {
	mu   sync.Mutex
	txns map[string]PaymeTransaction
}

func newMemoryJournal() *memoryJournal {
	return &memoryJournal{txns: make(map[string]PaymeTransaction)}
}

func (j *memoryJournal) Get(ctx context.Context, id string) (*PaymeTransaction, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	txn, ok := j.txns[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return &txn, nil
}

func (j *memoryJournal) Create(ctx context.Context, txn *PaymeTransaction) (bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.txns[txn.ID]; ok {
		return false, nil
	}
	for _, other := range j.txns {
		if other.OrderID == txn.OrderID && other.isActive() {
			return false, nil
		}
	}
	j.txns[txn.ID] = *txn
	return true, nil
}

func (j *memoryJournal) Save(ctx context.Context, txn *PaymeTransaction) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.txns[txn.ID] = *txn
	return nil
}

func (j *memoryJournal) ActiveForOrder(ctx context.Context, orderID uint64) (*PaymeTransaction, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var found *PaymeTransaction
	for _, txn := range j.txns {
		if txn.OrderID != orderID || !txn.isActive() {
			continue
		}
		if found == nil || txn.State > found.State {
			txn := txn
			found = &txn
		}
	}
	if found == nil {
		return nil, ErrTransactionNotFound
	}
	return found, nil
}

func (j *memoryJournal) Statement(ctx context.Context, from, to int64) ([]PaymeTransaction, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var txns []PaymeTransaction
	for _, txn := range j.txns {
		if txn.CreateTime >= from && txn.CreateTime <= to {
			txns = append(txns, txn)
		}
	}
	sort.Slice(txns, func(i, k int) bool { return txns[i].CreateTime < txns[k].CreateTime })
	return txns, nil
}

// MockReconciler is a mock of the reconcile callback
type MockReconciler struct {
	mock.Mock
}

func (m *MockReconciler) Reconcile(ctx context.Context, n model.Notification) (*model.Order, error) {
	args := m.Called(n)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

type rpcReply struct {
	ID     json.RawMessage        `json:"id"`
	Result map[string]interface{} `json:"result"`
	Error  *struct {
		Code int `json:"code"`
	} `json:"error"`
}

func newTestPayme(t *testing.T) (*PaymeStrategy, *memoryJournal) {
	journal := newMemoryJournal()
	s, err := NewPaymeStrategy(config.PaymeConfig{
		MerchantID: "merchant-1",
		Key:        testPaymeKey,
		IsTestMode: true,
	}, journal, zap.NewNop())
	require.NoError(t, err)
	s.now = func() time.Time { return time.UnixMilli(testNowMilli) }
	return s, journal
}

func pendingOrder(id uint64, amount string) *model.Order {
	o := &model.Order{ProductName: "Widget", Amount: decimal.RequireFromString(amount), Status: model.OrderStatusPending}
	o.ID = id
	return o
}

func callPayme(t *testing.T, s *PaymeStrategy, key, body string, reconcile ReconcileFunc) rpcReply {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/webhooks/payment", strings.NewReader(body))
	if key != "" {
		c.Request.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("Paycom:"+key)))
	}

	s.ServeNotify(c, reconcile)

	assert.Equal(t, http.StatusOK, w.Code)
	var reply rpcReply
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reply))
	return reply
}

func TestPaymeCreateLink(t *testing.T) {
	s, _ := newTestPayme(t)

	link, err := s.CreateLink(context.Background(), LinkParams{OrderID: 42, AmountMinor: 1999, ReturnURL: "https://shop.example/done"})
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(link, paymeTestCheckoutURL+"/"))
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(link, paymeTestCheckoutURL+"/"))
	require.NoError(t, err)
	assert.Equal(t, "m=merchant-1;ac.order_id=42;a=1999;c=https://shop.example/done", string(raw))

	t.Run("Cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := s.CreateLink(ctx, LinkParams{OrderID: 42, AmountMinor: 1999})
		assert.Error(t, err)
	})
}

func TestPaymeAuthorization(t *testing.T) {
	s, _ := newTestPayme(t)
	rec := new(MockReconciler)

	reply := callPayme(t, s, "wrong", `{"id":1,"method":"CheckPerformTransaction","params":{"amount":1000,"account":{"order_id":"42"}}}`, rec.Reconcile)

	require.NotNil(t, reply.Error)
	assert.Equal(t, paymeErrAuth, reply.Error.Code)
	assert.Equal(t, "1", string(reply.ID))
	rec.AssertNotCalled(t, "Reconcile", mock.Anything)
}

func TestPaymeCheckPerformTransaction(t *testing.T) {
	t.Run("Allowed for pending order", func(t *testing.T) {
		s, _ := newTestPayme(t)
		rec := new(MockReconciler)
		rec.On("Reconcile", model.Notification{Channel: "payme", OrderID: 42, Event: model.EventCheck, AmountMinor: 1000}).
			Return(pendingOrder(42, "10.00"), nil)

		reply := callPayme(t, s, testPaymeKey, `{"id":1,"method":"CheckPerformTransaction","params":{"amount":1000,"account":{"order_id":"42"}}}`, rec.Reconcile)

		assert.Nil(t, reply.Error)
		assert.Equal(t, true, reply.Result["allow"])
		rec.AssertExpectations(t)
	})

	t.Run("Unknown order", func(t *testing.T) {
		s, _ := newTestPayme(t)
		rec := new(MockReconciler)
		rec.On("Reconcile", mock.Anything).Return(nil, model.ErrNotFound)

		reply := callPayme(t, s, testPaymeKey, `{"id":2,"method":"CheckPerformTransaction","params":{"amount":1000,"account":{"order_id":999}}}`, rec.Reconcile)

		require.NotNil(t, reply.Error)
		assert.Equal(t, paymeErrOrderNotFound, reply.Error.Code)
	})

	t.Run("Amount mismatch", func(t *testing.T) {
		s, _ := newTestPayme(t)
		rec := new(MockReconciler)
		rec.On("Reconcile", mock.Anything).Return(nil, model.ErrAmountMismatch)

		reply := callPayme(t, s, testPaymeKey, `{"id":3,"method":"CheckPerformTransaction","params":{"amount":5,"account":{"order_id":"42"}}}`, rec.Reconcile)

		require.NotNil(t, reply.Error)
		assert.Equal(t, paymeErrInvalidAmount, reply.Error.Code)
	})
}

func TestPaymeTransactionLifecycle(t *testing.T) {
	s, journal := newTestPayme(t)
	rec := new(MockReconciler)
	rec.On("Reconcile", model.Notification{Channel: "payme", TransactionID: "txn-1", OrderID: 42, Event: model.EventCheck, AmountMinor: 1000}).
		Return(pendingOrder(42, "10.00"), nil).Once()
	paid := pendingOrder(42, "10.00")
	paid.Status = model.OrderStatusPaid
	rec.On("Reconcile", model.Notification{Channel: "payme", TransactionID: "txn-1", OrderID: 42, Event: model.EventSucceeded, AmountMinor: 1000}).
		Return(paid, nil).Once()

	create := `{"id":10,"method":"CreateTransaction","params":{"id":"txn-1","time":1700000000000,"amount":1000,"account":{"order_id":"42"}}}`
	reply := callPayme(t, s, testPaymeKey, create, rec.Reconcile)
	require.Nil(t, reply.Error)
	assert.EqualValues(t, paymeStateCreated, reply.Result["state"])
	assert.Equal(t, "txn-1", reply.Result["transaction"])

	// 重复的 CreateTransaction 直接返回流水，不再校验订单
	reply = callPayme(t, s, testPaymeKey, create, rec.Reconcile)
	require.Nil(t, reply.Error)
	assert.EqualValues(t, paymeStateCreated, reply.Result["state"])

	perform := `{"id":11,"method":"PerformTransaction","params":{"id":"txn-1"}}`
	reply = callPayme(t, s, testPaymeKey, perform, rec.Reconcile)
	require.Nil(t, reply.Error)
	assert.EqualValues(t, paymeStatePerformed, reply.Result["state"])

	// 重复投递的 PerformTransaction 幂等
	reply = callPayme(t, s, testPaymeKey, perform, rec.Reconcile)
	require.Nil(t, reply.Error)
	assert.EqualValues(t, paymeStatePerformed, reply.Result["state"])

	txn, err := journal.Get(context.Background(), "txn-1")
	require.NoError(t, err)
	assert.Equal(t, paymeStatePerformed, txn.State)
	assert.Equal(t, int64(1700000000000), txn.PerformTime)

	// 已支付的交易不能撤销
	reply = callPayme(t, s, testPaymeKey, `{"id":12,"method":"CancelTransaction","params":{"id":"txn-1","reason":3}}`, rec.Reconcile)
	require.NotNil(t, reply.Error)
	assert.Equal(t, paymeErrCannotCancel, reply.Error.Code)

	reply = callPayme(t, s, testPaymeKey, `{"id":13,"method":"CheckTransaction","params":{"id":"txn-1"}}`, rec.Reconcile)
	require.Nil(t, reply.Error)
	assert.EqualValues(t, paymeStatePerformed, reply.Result["state"])

	rec.AssertExpectations(t)
}

func TestPaymeCancelTransaction(t *testing.T) {
	s, journal := newTestPayme(t)
	require.NoError(t, journal.Save(context.Background(), &PaymeTransaction{ID: "txn-2", OrderID: 7, Amount: 500, State: paymeStateCreated, CreateTime: testNowMilli - 1000}))

	cancelled := pendingOrder(7, "5.00")
	cancelled.Status = model.OrderStatusCancelled
	rec := new(MockReconciler)
	rec.On("Reconcile", model.Notification{Channel: "payme", TransactionID: "txn-2", OrderID: 7, Event: model.EventCancelled}).
		Return(cancelled, nil).Once()

	reply := callPayme(t, s, testPaymeKey, `{"id":20,"method":"CancelTransaction","params":{"id":"txn-2","reason":3}}`, rec.Reconcile)

	require.Nil(t, reply.Error)
	assert.EqualValues(t, paymeStateCancelled, reply.Result["state"])

	t.Run("Perform after cancel is refused", func(t *testing.T) {
		reply := callPayme(t, s, testPaymeKey, `{"id":21,"method":"PerformTransaction","params":{"id":"txn-2"}}`, rec.Reconcile)
		require.NotNil(t, reply.Error)
		assert.Equal(t, paymeErrCannotPerform, reply.Error.Code)
	})

	rec.AssertExpectations(t)
}

func TestPaymePerformConflict(t *testing.T) {
	s, journal := newTestPayme(t)
	require.NoError(t, journal.Save(context.Background(), &PaymeTransaction{ID: "txn-3", OrderID: 8, Amount: 500, State: paymeStateCreated, CreateTime: testNowMilli - 1000}))
	rec := new(MockReconciler)
	rec.On("Reconcile", mock.Anything).Return(nil, model.ErrConflict)

	reply := callPayme(t, s, testPaymeKey, `{"id":30,"method":"PerformTransaction","params":{"id":"txn-3"}}`, rec.Reconcile)

	require.NotNil(t, reply.Error)
	assert.Equal(t, paymeErrCannotPerform, reply.Error.Code)
	txn, err := journal.Get(context.Background(), "txn-3")
	require.NoError(t, err)
	assert.Equal(t, paymeStateCreated, txn.State)
}

func TestPaymeProtocolErrors(t *testing.T) {
	s, _ := newTestPayme(t)
	rec := new(MockReconciler)

	reply := callPayme(t, s, testPaymeKey, `{not json`, rec.Reconcile)
	require.NotNil(t, reply.Error)
	assert.Equal(t, paymeErrParse, reply.Error.Code)

	reply = callPayme(t, s, testPaymeKey, `{"id":1,"method":"ChangePassword","params":{}}`, rec.Reconcile)
	require.NotNil(t, reply.Error)
	assert.Equal(t, paymeErrMethodNotFound, reply.Error.Code)

	reply = callPayme(t, s, testPaymeKey, `{"id":1,"method":"PerformTransaction","params":{"id":"missing"}}`, rec.Reconcile)
	require.NotNil(t, reply.Error)
	assert.Equal(t, paymeErrTransactionNotFound, reply.Error.Code)

	rec.AssertNotCalled(t, "Reconcile", mock.Anything)
}

func TestPaymeOneActiveTransactionPerOrder(t *testing.T) {
	s, journal := newTestPayme(t)
	rec := new(MockReconciler)
	rec.On("Reconcile", mock.MatchedBy(func(n model.Notification) bool { return n.Event == model.EventCheck })).
		Return(pendingOrder(42, "10.00"), nil)
	paid := pendingOrder(42, "10.00")
	paid.Status = model.OrderStatusPaid
	rec.On("Reconcile", model.Notification{Channel: "payme", TransactionID: "T1", OrderID: 42, Event: model.EventSucceeded, AmountMinor: 1000}).
		Return(paid, nil).Once()

	create := func(id string) rpcReply {
		return callPayme(t, s, testPaymeKey, `{"id":1,"method":"CreateTransaction","params":{"id":"`+id+`","time":1699999999000,"amount":1000,"account":{"order_id":"42"}}}`, rec.Reconcile)
	}

	reply := create("T1")
	require.Nil(t, reply.Error)
	assert.EqualValues(t, paymeStateCreated, reply.Result["state"])

	reply = create("T2")
	require.NotNil(t, reply.Error)
	assert.Equal(t, paymeErrOrderBusy, reply.Error.Code)
	_, err := journal.Get(context.Background(), "T2")
	assert.ErrorIs(t, err, ErrTransactionNotFound)

	reply = callPayme(t, s, testPaymeKey, `{"id":2,"method":"PerformTransaction","params":{"id":"T1"}}`, rec.Reconcile)
	require.Nil(t, reply.Error)
	assert.EqualValues(t, paymeStatePerformed, reply.Result["state"])

	reply = create("T2")
	require.NotNil(t, reply.Error)
	assert.Equal(t, paymeErrOrderBusy, reply.Error.Code)

	t.Run("Perform of a second transaction is refused", func(t *testing.T) {
		// 历史数据中残留的第二笔 created 交易
		require.NoError(t, journal.Save(context.Background(), &PaymeTransaction{ID: "T3", OrderID: 42, Amount: 1000, State: paymeStateCreated, CreateTime: testNowMilli}))

		reply := callPayme(t, s, testPaymeKey, `{"id":3,"method":"PerformTransaction","params":{"id":"T3"}}`, rec.Reconcile)

		require.NotNil(t, reply.Error)
		assert.Equal(t, paymeErrCannotPerform, reply.Error.Code)
		txn, err := journal.Get(context.Background(), "T3")
		require.NoError(t, err)
		assert.Equal(t, paymeStateCreated, txn.State)
	})

	rec.AssertExpectations(t)
	rec.AssertNumberOfCalls(t, "Reconcile", 4)
}

func TestPaymeTransactionTimeout(t *testing.T) {
	stale := testNowMilli - paymeTransactionTimeout.Milliseconds() - 1

	for _, method := range []string{"CreateTransaction", "PerformTransaction"} {
		t.Run(method, func(t *testing.T) {
			s, journal := newTestPayme(t)
			require.NoError(t, journal.Save(context.Background(), &PaymeTransaction{ID: "old", OrderID: 5, Amount: 700, State: paymeStateCreated, CreateTime: stale}))
			cancelled := pendingOrder(5, "7.00")
			cancelled.Status = model.OrderStatusCancelled
			rec := new(MockReconciler)
			rec.On("Reconcile", model.Notification{Channel: "payme", TransactionID: "old", OrderID: 5, Event: model.EventCancelled}).
				Return(cancelled, nil).Once()

			reply := callPayme(t, s, testPaymeKey, `{"id":1,"method":"`+method+`","params":{"id":"old","time":1,"amount":700,"account":{"order_id":"5"}}}`, rec.Reconcile)

			require.NotNil(t, reply.Error)
			assert.Equal(t, paymeErrCannotPerform, reply.Error.Code)
			txn, err := journal.Get(context.Background(), "old")
			require.NoError(t, err)
			assert.Equal(t, paymeStateCancelled, txn.State)
			require.NotNil(t, txn.Reason)
			assert.Equal(t, paymeReasonTimeout, *txn.Reason)
			assert.Equal(t, testNowMilli, txn.CancelTime)
			rec.AssertExpectations(t)
		})
	}
}

func TestPaymeGetStatement(t *testing.T) {
	s, journal := newTestPayme(t)
	ctx := context.Background()
	require.NoError(t, journal.Save(ctx, &PaymeTransaction{ID: "b", OrderID: 2, Amount: 200, State: paymeStatePerformed, Time: 1500, CreateTime: 2000, PerformTime: 2100}))
	require.NoError(t, journal.Save(ctx, &PaymeTransaction{ID: "a", OrderID: 1, Amount: 100, State: paymeStateCreated, Time: 900, CreateTime: 1000}))
	require.NoError(t, journal.Save(ctx, &PaymeTransaction{ID: "late", OrderID: 3, Amount: 300, State: paymeStateCreated, CreateTime: 9000}))
	rec := new(MockReconciler)

	reply := callPayme(t, s, testPaymeKey, `{"id":1,"method":"GetStatement","params":{"from":1000,"to":5000}}`, rec.Reconcile)

	require.Nil(t, reply.Error)
	txns, ok := reply.Result["transactions"].([]interface{})
	require.True(t, ok)
	require.Len(t, txns, 2)
	first := txns[0].(map[string]interface{})
	assert.Equal(t, "a", first["id"])
	assert.EqualValues(t, 900, first["time"])
	assert.Equal(t, map[string]interface{}{"order_id": "1"}, first["account"])
	second := txns[1].(map[string]interface{})
	assert.Equal(t, "b", second["id"])
	assert.EqualValues(t, paymeStatePerformed, second["state"])
	assert.EqualValues(t, 2100, second["perform_time"])

	t.Run("Inverted range", func(t *testing.T) {
		reply := callPayme(t, s, testPaymeKey, `{"id":2,"method":"GetStatement","params":{"from":5000,"to":1000}}`, rec.Reconcile)
		require.NotNil(t, reply.Error)
		assert.Equal(t, paymeErrInvalidRequest, reply.Error.Code)
	})

	rec.AssertNotCalled(t, "Reconcile", mock.Anything)
}
