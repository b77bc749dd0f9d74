package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"pharmacy_checkout/internal/gateway"
	"pharmacy_checkout/internal/middleware"
)

// Result is the HTTP outcome of one request.
type Result struct {
	Status int
	Body   string
	Err    error
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type loadClient struct {
	http      *http.Client
	baseURL   string
	jwtSecret string
}

func main() {
	baseURL := flag.String("base", "http://localhost:8080", "server base url")
	medicineID := flag.Uint("medicine", 0, "medicine id; 0 creates one through the admin API")
	adminToken := flag.String("admin-token", "dev-admin-token", "admin token for catalog writes")
	jwtSecret := flag.String("jwt-secret", "", "JWT_SECRET of the server, used to mint user tokens")
	keySecret := flag.String("key-secret", "", "gateway key secret; when set, each order is confirmed with a signed payment")

	nUsers := flag.Int("users", 100, "distinct users checking out")
	concurrency := flag.Int("c", 25, "max concurrency")
	burst := flag.Int("burst", 30, "parallel checkouts fired by a single user")
	flag.Parse()

	if *jwtSecret == "" {
		panic("-jwt-secret is required")
	}
	lc := &loadClient{
		http:      &http.Client{Timeout: 20 * time.Second},
		baseURL:   *baseURL,
		jwtSecret: *jwtSecret,
	}

	if *medicineID == 0 {
		id, err := lc.createMedicine(*adminToken)
		if err != nil {
			panic(fmt.Sprintf("create medicine failed: %v", err))
		}
		*medicineID = id
		fmt.Println("created medicine", id)
	}

	// 1) distinct users: cart -> checkout -> confirm
	fmt.Printf("start checkout test: medicine=%d users=%d concurrency=%d\n", *medicineID, *nUsers, *concurrency)
	checkouts, confirms := lc.runCheckouts(*medicineID, *nUsers, *concurrency, *keySecret)
	printSummary("checkout", checkouts)
	if *keySecret != "" {
		printSummary("confirm", confirms)
	}

	// 2) one user, parallel checkouts: the checkout lock and the rate limiter
	// should turn most of these into 409 or 429.
	const burstUser = 900001
	fmt.Printf("\nstart burst test: user=%d requests=%d\n", burstUser, *burst)
	if r := lc.addToCart(burstUser, *medicineID, 1); r.Err != nil || r.Status >= 300 {
		fmt.Println("burst cart setup failed:", r.Status, r.Body, r.Err)
		return
	}
	printSummary("burst", lc.runBurst(burstUser, *burst))
}

func (lc *loadClient) runCheckouts(medicineID uint, nUsers, concurrency int, keySecret string) ([]Result, []Result) {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	checkouts := make([]Result, nUsers)
	confirms := make([]Result, nUsers)

	for i := 0; i < nUsers; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			userID := uint(idx + 1)
			if r := lc.addToCart(userID, medicineID, 1+idx%3); r.Err != nil || r.Status >= 300 {
				checkouts[idx] = r
				return
			}
			checkouts[idx] = lc.checkout(userID)
			if keySecret == "" || checkouts[idx].Status != http.StatusCreated {
				return
			}
			confirms[idx] = lc.confirm(userID, checkouts[idx].Body, keySecret)
		}(i)
	}

	wg.Wait()
	return checkouts, confirms
}

func (lc *loadClient) runBurst(userID uint, total int) []Result {
	var wg sync.WaitGroup
	results := make([]Result, total)
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx] = lc.checkout(userID)
		}(i)
	}
	wg.Wait()
	return results
}

func (lc *loadClient) createMedicine(adminToken string) (uint, error) {
	r := lc.do(http.MethodPost, "/api/medicines", map[string]any{
		"name":  fmt.Sprintf("Loadtest Paracetamol %d", time.Now().Unix()),
		"price": "42.50",
		"mrp":   "50.00",
	}, map[string]string{middleware.AdminTokenHeader: adminToken})
	if r.Err != nil {
		return 0, r.Err
	}
	if r.Status >= 300 {
		return 0, fmt.Errorf("status=%d body=%s", r.Status, r.Body)
	}
	var med struct {
		ID uint `json:"id"`
	}
	if err := decodeData(r.Body, &med); err != nil {
		return 0, err
	}
	return med.ID, nil
}

func (lc *loadClient) addToCart(userID, medicineID uint, qty int) Result {
	return lc.do(http.MethodPost, "/api/cart/add", map[string]any{
		"medicine_id": medicineID,
		"quantity":    qty,
	}, lc.auth(userID))
}

func (lc *loadClient) checkout(userID uint) Result {
	return lc.do(http.MethodPost, "/api/orders/checkout", map[string]any{"notes": "loadtest"}, lc.auth(userID))
}

// confirm signs "{order}|{payment}" the way the gateway would after a
// successful payment.
func (lc *loadClient) confirm(userID uint, checkoutBody, keySecret string) Result {
	var placed struct {
		GatewayOrder struct {
			ID string `json:"id"`
		} `json:"gateway_order"`
	}
	if err := decodeData(checkoutBody, &placed); err != nil {
		return Result{Err: err}
	}
	paymentID := fmt.Sprintf("pay_load_%d_%d", userID, time.Now().UnixNano())
	return lc.do(http.MethodPost, "/api/orders/confirm-payment", map[string]any{
		"gateway_order_id":   placed.GatewayOrder.ID,
		"gateway_payment_id": paymentID,
		"gateway_signature":  gateway.Sign(gateway.PaymentMessage(placed.GatewayOrder.ID, paymentID), keySecret),
	}, lc.auth(userID))
}

func (lc *loadClient) auth(userID uint) map[string]string {
	tok, err := middleware.IssueToken(userID, lc.jwtSecret, time.Hour)
	if err != nil {
		panic(err)
	}
	return map[string]string{"Authorization": "Bearer " + tok}
}

// do sends a JSON request with optional headers.
func (lc *loadClient) do(method, path string, body any, headers map[string]string) Result {
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(method, lc.baseURL+path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := lc.http.Do(req)
	if err != nil {
		return Result{Err: err}
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return Result{Status: resp.StatusCode, Body: string(b)}
}

func decodeData(body string, out any) error {
	var env envelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return err
	}
	return json.Unmarshal(env.Data, out)
}

// printSummary prints the distribution of status codes.
func printSummary(name string, results []Result) {
	count := map[int]int{}
	errCount := 0
	for _, r := range results {
		if r.Err != nil {
			errCount++
			continue
		}
		if r.Status == 0 {
			continue
		}
		count[r.Status]++
	}
	fmt.Printf("[%s] http status summary:\n", name)
	for _, code := range []int{200, 201, 400, 401, 404, 409, 429, 500, 502, 503} {
		if count[code] > 0 {
			fmt.Printf("  %d -> %d\n", code, count[code])
		}
	}
	if errCount > 0 {
		fmt.Printf("  errors -> %d\n", errCount)
	}
}
