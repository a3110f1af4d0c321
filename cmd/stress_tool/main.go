package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var (
	baseURL   = flag.String("base-url", "http://localhost:8080", "service base URL")
	paymeKey  = flag.String("payme-key", os.Getenv("PAYORDER_PAYMENT_PAYME_KEY"), "Payme merchant key used for webhook auth")
	workers   = flag.Int("workers", 500, "concurrent webhook deliveries per event")
	amountStr = flag.String("amount", "10.00", "order amount in major units")
)

var httpClient *http.Client

func init() {
	// 优化 HTTP Client 配置
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 2000
	t.MaxIdleConnsPerHost = 2000
	t.MaxConnsPerHost = 2000
	httpClient = &http.Client{
		Transport: t,
		Timeout:   10 * time.Second,
	}
}

// 压测：同一订单并发投递 PerformTransaction 和 CancelTransaction，
// 结束后订单必须处于唯一终态，且与成功应答的方法一致
func main() {
	flag.Parse()

	orderID, minor, err := createOrder()
	if err != nil {
		fmt.Printf("创建订单失败: %v\n", err)
		os.Exit(1)
	}
	txnID := fmt.Sprintf("stress-%d-%d", orderID, time.Now().UnixNano())
	if code := payme("CreateTransaction", map[string]interface{}{
		"id":      txnID,
		"time":    time.Now().UnixMilli(),
		"amount":  minor,
		"account": map[string]string{"order_id": fmt.Sprint(orderID)},
	}); code != 0 {
		fmt.Printf("CreateTransaction 失败, code=%d\n", code)
		os.Exit(1)
	}

	fmt.Printf("开始压测：订单 %d，%d 个 Perform 与 %d 个 Cancel 并发投递...\n", orderID, *workers, *workers)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = map[string]map[int]int{"PerformTransaction": {}, "CancelTransaction": {}}
	)
	start := time.Now()
	for i := 0; i < *workers; i++ {
		for _, method := range []string{"PerformTransaction", "CancelTransaction"} {
			wg.Add(1)
			go func(method string) {
				defer wg.Done()
				params := map[string]interface{}{"id": txnID}
				if method == "CancelTransaction" {
					params["reason"] = 3
				}
				code := payme(method, params)
				mu.Lock()
				outcomes[method][code]++
				mu.Unlock()
			}(method)
		}
	}
	wg.Wait()
	duration := time.Since(start)

	status, err := orderStatus(orderID)
	if err != nil {
		fmt.Printf("查询订单失败: %v\n", err)
		os.Exit(1)
	}

	total := 2 * *workers
	fmt.Println("--------------------------------------------------")
	fmt.Printf("压测结束，耗时: %v\n", duration)
	fmt.Printf("总请求数: %d\n", total)
	fmt.Printf("QPS: %.2f\n", float64(total)/duration.Seconds())
	fmt.Printf("Perform 应答码分布: %v\n", outcomes["PerformTransaction"])
	fmt.Printf("Cancel 应答码分布: %v\n", outcomes["CancelTransaction"])
	fmt.Printf("订单最终状态: %s\n", status)
	fmt.Println("--------------------------------------------------")

	performed := outcomes["PerformTransaction"][0] > 0
	cancelled := outcomes["CancelTransaction"][0] > 0
	switch {
	case performed && cancelled:
		fmt.Println("FAIL: Perform 与 Cancel 同时成功")
		os.Exit(1)
	case performed && status != "paid", cancelled && status != "cancelled":
		fmt.Println("FAIL: 订单状态与应答不一致")
		os.Exit(1)
	}
	fmt.Println("OK")
}

func createOrder() (uint64, int64, error) {
	body, _ := json.Marshal(map[string]string{"product_name": "stress", "amount": *amountStr})
	resp, err := httpClient.Post(*baseURL+"/orders", "application/json", bytes.NewReader(body))
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	var result struct {
		Data struct {
			ID     uint64          `json:"id"`
			Amount decimal.Decimal `json:"amount"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil || result.Data.ID == 0 {
		return 0, 0, fmt.Errorf("unexpected response %d: %s", resp.StatusCode, respBody)
	}
	return result.Data.ID, result.Data.Amount.Shift(2).IntPart(), nil
}

func payme(method string, params map[string]interface{}) int {
	body, _ := json.Marshal(map[string]interface{}{"id": time.Now().UnixNano(), "method": method, "params": params})
	req, _ := http.NewRequest(http.MethodPost, *baseURL+"/webhooks/payment/payme", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("Paycom:"+*paymeKey)))

	resp, err := httpClient.Do(req)
	if err != nil {
		return -1
	}
	defer resp.Body.Close()

	var result struct {
		Error *struct {
			Code int `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return -1
	}
	if result.Error != nil {
		return result.Error.Code
	}
	return 0
}

func orderStatus(id uint64) (string, error) {
	resp, err := httpClient.Get(fmt.Sprintf("%s/orders/%d", *baseURL, id))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result struct {
		Data struct {
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.Data.Status, nil
}
