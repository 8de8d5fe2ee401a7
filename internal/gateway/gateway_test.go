package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/benbjohnson/clock"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/investa-id/investa_portal/internal/apiclient"
	"github.com/investa-id/investa_portal/internal/config"
	"github.com/investa-id/investa_portal/internal/logging"
	"github.com/investa-id/investa_portal/internal/refresh"
	"github.com/investa-id/investa_portal/internal/session"
	"github.com/investa-id/investa_portal/internal/signals"
)

type fakeLoop struct {
	mu    sync.Mutex
	stops int
}

func (l *fakeLoop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stops++
}

func (l *fakeLoop) Status() refresh.Status {
	return refresh.Status{State: refresh.Stopped, StateName: refresh.Stopped.String()}
}

func (l *fakeLoop) Stops() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stops
}

type fixture struct {
	app    *fiber.App
	gw     *Gateway
	store  *session.MemoryStore
	loop   *fakeLoop
	nav    *Navigator
	clock  *clock.Mock
	events <-chan signals.Event
	calls  map[string]*atomic.Int32
}

func (f *fixture) count(path string) int32 {
	return f.calls[path].Load()
}

func writeEnvelope(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

// newFixture wires the gateway to a fake REST API. Token "revoked" is
// rejected with 401 by every authenticated endpoint.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC))

	f := &fixture{clock: clk, calls: map[string]*atomic.Int32{}}
	for _, p := range []string{"/login", "/products", "/investments", "/payments/INV-9", "/payments/INV-OLD", "/payments/INV-GONE", "/spin", "/withdrawals", "/forum"} {
		f.calls[p] = &atomic.Int32{}
	}

	mux := http.NewServeMux()
	authed := func(path string, h http.HandlerFunc) {
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			f.calls[path].Add(1)
			if r.Header.Get("Authorization") == "Bearer revoked" {
				writeEnvelope(w, http.StatusUnauthorized, `{"success":false,"message":"Unauthenticated"}`)
				return
			}
			h(w, r)
		})
	}
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		f.calls["/login"].Add(1)
		var req apiclient.LoginRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Password != "rahasia" {
			writeEnvelope(w, http.StatusOK, `{"success":false,"message":"Nomor atau kata sandi salah"}`)
			return
		}
		writeEnvelope(w, http.StatusOK, `{"success":true,"message":"Login berhasil","data":{"token":"tok-1","user":{"name":"Budi","balance":100000,"spin_ticket":1},"application":{"min_withdraw":50000,"max_withdraw":5000000}}}`)
	})
	authed("/products", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, `{"success":true,"data":[{"id":1,"name":"Paket Emas","price":150000}]}`)
	})
	authed("/investments", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, `{"success":true,"message":"Pesanan dibuat","data":{"order_id":"INV-9","amount":150000}}`)
	})
	authed("/payments/INV-9", func(w http.ResponseWriter, r *http.Request) {
		deadline := clk.Now().Add(10 * time.Minute).Format(time.RFC3339)
		writeEnvelope(w, http.StatusOK, `{"success":true,"data":{"order_id":"INV-9","amount":150000,"payment_method":"va","payment_code":"8800123","expired_at":"`+deadline+`"}}`)
	})
	authed("/payments/INV-OLD", func(w http.ResponseWriter, r *http.Request) {
		deadline := clk.Now().Add(-time.Minute).Format(time.RFC3339)
		writeEnvelope(w, http.StatusOK, `{"success":true,"data":{"order_id":"INV-OLD","amount":150000,"payment_method":"va","payment_code":"8800124","expired_at":"`+deadline+`"}}`)
	})
	authed("/payments/INV-GONE", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusNotFound, `{"success":false,"message":"Pesanan tidak ditemukan"}`)
	})
	authed("/spin", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, `{"success":false,"message":"Tiket spin habis"}`)
	})
	authed("/withdrawals", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, `{"success":true,"message":"Penarikan diproses","data":{"id":7,"amount":60000,"status":"pending"}}`)
	})
	authed("/forum", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil || r.FormValue("description") == "" {
			writeEnvelope(w, http.StatusBadRequest, `{"success":false,"message":"form rusak"}`)
			return
		}
		writeEnvelope(w, http.StatusOK, `{"success":true,"message":"Testimoni terkirim"}`)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, `{"success":true}`)
	})
	api := httptest.NewServer(mux)
	t.Cleanup(api.Close)

	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cache.Close() })

	bus := signals.NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	events, err := bus.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	f.store = session.NewMemoryStore(nil)
	f.loop = &fakeLoop{}
	f.nav = NewNavigator(logging.Discard())
	f.events = events

	f.app = fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	f.gw, err = Setup(f.app, Deps{
		Cfg: config.Config{
			AppEnv:           "development",
			StorageNamespace: "portal",
			SessionTTL:       24 * time.Hour,
			SubmitTTL:        time.Minute,
			LoginAttempts:    5,
		},
		Cache:     cache,
		Store:     f.store,
		API:       apiclient.New(api.URL, apiclient.WithTimeout(2*time.Second), apiclient.WithRateLimit(0)),
		Loop:      f.loop,
		Signals:   bus,
		Navigator: f.nav,
		ContextID: "tab-test",
		Clock:     clk,
		Logger:    logging.Discard(),
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	t.Cleanup(f.gw.Close)
	return f
}

func (f *fixture) signIn(t *testing.T, token string, user *session.UserProfile, app *session.AppConfig) {
	t.Helper()
	err := f.store.Commit(context.Background(), session.Session{
		Token:       token,
		ExpiresAt:   f.clock.Now().Add(time.Hour),
		User:        user,
		Application: app,
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func (f *fixture) request(t *testing.T, method, path, body string, headers ...string) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	return f.send(t, req)
}

func (f *fixture) send(t *testing.T, req *http.Request) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := f.app.Test(req, 5000)
	if err != nil {
		t.Fatalf("app.Test %s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var decoded map[string]any
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &decoded)
	}
	return resp, decoded
}

func (f *fixture) expectTokenChanged(t *testing.T) {
	t.Helper()
	select {
	case ev := <-f.events:
		if ev.Kind != signals.TokenChanged || ev.Origin != "tab-test" {
			t.Fatalf("unexpected event %+v", ev)
		}
	default:
		t.Fatal("expected token-changed event")
	}
}

func TestProtectedPagesRequireSession(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.request(t, fiber.MethodGet, "/dashboard", "")
	if resp.StatusCode != fiber.StatusFound {
		t.Fatalf("expected 302, got %d", resp.StatusCode)
	}
	if loc := resp.Header.Get(fiber.HeaderLocation); loc != "/login" {
		t.Fatalf("expected redirect to /login, got %q", loc)
	}

	resp, body := f.request(t, fiber.MethodPost, "/spin", "{}")
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 for action, got %d", resp.StatusCode)
	}
	if body["redirect"] != "/login" {
		t.Fatalf("expected redirect hint, got %v", body)
	}
}

func TestLoginStoresSessionAndSignals(t *testing.T) {
	f := newFixture(t)

	resp, body := f.request(t, fiber.MethodPost, "/login", `{"number":"0812","password":"rahasia"}`)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("login: expected 200, got %d (%v)", resp.StatusCode, body)
	}
	f.expectTokenChanged(t)

	sess, err := f.store.Load(context.Background())
	if err != nil || sess == nil {
		t.Fatalf("expected stored session, got %v %v", sess, err)
	}
	if sess.Token != "tok-1" {
		t.Fatalf("unexpected token %q", sess.Token)
	}
	if want := f.clock.Now().Add(24 * time.Hour); !sess.ExpiresAt.Equal(want) {
		t.Fatalf("expected default expiry %s, got %s", want, sess.ExpiresAt)
	}

	resp, body = f.request(t, fiber.MethodGet, "/dashboard", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("dashboard: expected 200, got %d", resp.StatusCode)
	}
	user, _ := body["user"].(map[string]any)
	if user["name"] != "Budi" {
		t.Fatalf("unexpected dashboard user %v", body["user"])
	}
}

func TestLoginFailureShowsServerMessage(t *testing.T) {
	f := newFixture(t)

	resp, body := f.request(t, fiber.MethodPost, "/login", `{"number":"0812","password":"salah"}`)
	if resp.StatusCode != fiber.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
	if body["error"] != "Nomor atau kata sandi salah" {
		t.Fatalf("expected verbatim server message, got %v", body["error"])
	}
	if sess, _ := f.store.Load(context.Background()); sess != nil {
		t.Fatal("failed login must not store a session")
	}
}

func TestLoginValidationSkipsServer(t *testing.T) {
	f := newFixture(t)

	resp, body := f.request(t, fiber.MethodPost, "/login", `{"number":"","password":"x"}`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if body["field"] != "number" {
		t.Fatalf("expected number field error, got %v", body)
	}
	if got := f.count("/login"); got != 0 {
		t.Fatalf("server called %d times", got)
	}
}

func TestExpiredSessionIsClearedOnPageLoad(t *testing.T) {
	f := newFixture(t)
	f.signIn(t, "tok-1", &session.UserProfile{Name: "Budi"}, nil)
	f.clock.Add(2 * time.Hour)

	resp, _ := f.request(t, fiber.MethodGet, "/dashboard", "")
	if resp.StatusCode != fiber.StatusFound {
		t.Fatalf("expected 302, got %d", resp.StatusCode)
	}
	if sess, _ := f.store.Load(context.Background()); sess != nil {
		t.Fatal("expired session must be cleared")
	}
	if f.loop.Stops() == 0 {
		t.Fatal("expected refresh loop to be stopped")
	}
	if f.nav.Pending() != "/login" {
		t.Fatalf("expected pending login redirect, got %q", f.nav.Pending())
	}
	f.expectTokenChanged(t)
}

func TestRejectedTokenEndsSession(t *testing.T) {
	f := newFixture(t)
	f.signIn(t, "revoked", &session.UserProfile{Name: "Budi"}, nil)

	resp, _ := f.request(t, fiber.MethodGet, "/products", "")
	if resp.StatusCode != fiber.StatusFound {
		t.Fatalf("expected redirect, got %d", resp.StatusCode)
	}
	if sess, _ := f.store.Load(context.Background()); sess != nil {
		t.Fatal("rejected session must be cleared")
	}
}

func TestProductsListed(t *testing.T) {
	f := newFixture(t)
	f.signIn(t, "tok-1", &session.UserProfile{Name: "Budi"}, nil)

	resp, body := f.request(t, fiber.MethodGet, "/products", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	items, _ := body["products"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected one product, got %v", body["products"])
	}
}

func TestInvestmentSubmitIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.signIn(t, "tok-1", &session.UserProfile{Name: "Budi"}, nil)

	payload := `{"product_id":1,"payment_method":"va","payment_channel":"bca"}`
	first, body := f.request(t, fiber.MethodPost, "/investments", payload, "Idempotency-Key", "order-1")
	if first.StatusCode != fiber.StatusCreated {
		t.Fatalf("expected 201, got %d (%v)", first.StatusCode, body)
	}
	if body["payment"] != "/payments/INV-9" {
		t.Fatalf("unexpected payment link %v", body["payment"])
	}

	second, again := f.request(t, fiber.MethodPost, "/investments", payload, "Idempotency-Key", "order-1")
	if second.StatusCode != fiber.StatusCreated || again["order_id"] != "INV-9" {
		t.Fatalf("expected replayed order, got %d %v", second.StatusCode, again)
	}
	if got := f.count("/investments"); got != 1 {
		t.Fatalf("expected one upstream submit, got %d", got)
	}
}

func TestPaymentScreenRunsCountdown(t *testing.T) {
	f := newFixture(t)
	f.signIn(t, "tok-1", &session.UserProfile{Name: "Budi"}, nil)

	resp, body := f.request(t, fiber.MethodGet, "/payments/INV-9", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d (%v)", resp.StatusCode, body)
	}
	if body["state"] != "active" || body["remaining"] != "00:10:00" {
		t.Fatalf("unexpected countdown %v", body)
	}

	f.clock.Add(90 * time.Second)
	_, body = f.request(t, fiber.MethodGet, "/payments/INV-9", "")
	if body["remaining"] != "00:08:30" {
		t.Fatalf("unexpected remaining %v", body["remaining"])
	}
	if got := f.count("/payments/INV-9"); got != 1 {
		t.Fatalf("reopening a running countdown must not refetch, got %d fetches", got)
	}

	resp, _ = f.request(t, fiber.MethodDelete, "/payments/INV-9", "")
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
}

func (f *fixture) trackedPayments() int {
	f.gw.h.flowsMu.Lock()
	defer f.gw.h.flowsMu.Unlock()
	return len(f.gw.h.payments)
}

func TestFinishedCountdownsAreEvicted(t *testing.T) {
	f := newFixture(t)
	f.signIn(t, "tok-1", &session.UserProfile{Name: "Budi"}, nil)

	resp, body := f.request(t, fiber.MethodGet, "/payments/INV-OLD", "")
	if resp.StatusCode != fiber.StatusOK || body["state"] != "expired" {
		t.Fatalf("expected expired countdown, got %d %v", resp.StatusCode, body)
	}
	if n := f.trackedPayments(); n != 0 {
		t.Fatalf("expired countdown must be evicted, %d tracked", n)
	}

	for i := 0; i < 3; i++ {
		resp, _ = f.request(t, fiber.MethodGet, "/payments/INV-GONE", "")
		if resp.StatusCode != fiber.StatusUnprocessableEntity {
			t.Fatalf("expected 422, got %d", resp.StatusCode)
		}
	}
	if n := f.trackedPayments(); n != 0 {
		t.Fatalf("failed countdowns must be evicted, %d tracked", n)
	}

	f.request(t, fiber.MethodGet, "/payments/INV-9", "")
	if n := f.trackedPayments(); n != 1 {
		t.Fatalf("running countdown must stay tracked, %d tracked", n)
	}
}

func TestSpinRefusalIs422(t *testing.T) {
	f := newFixture(t)
	f.signIn(t, "tok-1", &session.UserProfile{Name: "Budi", SpinTickets: 1}, nil)

	resp, body := f.request(t, fiber.MethodPost, "/spin", "{}")
	if resp.StatusCode != fiber.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
	if body["error"] != "Tiket spin habis" {
		t.Fatalf("unexpected error %v", body["error"])
	}

	_, page := f.request(t, fiber.MethodGet, "/spin", "")
	wheel, _ := page["wheel"].(map[string]any)
	if wheel["state"] != "failed" || wheel["rotation"] != 0.0 {
		t.Fatalf("failed spin must leave rotation untouched, got %v", wheel)
	}
}

func TestSpinWithoutTicketsSkipsServer(t *testing.T) {
	f := newFixture(t)
	f.signIn(t, "tok-1", &session.UserProfile{Name: "Budi", SpinTickets: 0}, nil)

	resp, _ := f.request(t, fiber.MethodPost, "/spin", "{}")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if got := f.count("/spin"); got != 0 {
		t.Fatalf("server called %d times", got)
	}
}

func TestWithdrawalLimitsCheckedLocally(t *testing.T) {
	f := newFixture(t)
	f.signIn(t, "tok-1",
		&session.UserProfile{Name: "Budi", Balance: 100_000},
		&session.AppConfig{MinWithdraw: 50_000, MaxWithdraw: 5_000_000},
	)

	resp, body := f.request(t, fiber.MethodPost, "/withdrawals", `{"amount":1000,"bank_account_id":3}`)
	if resp.StatusCode != fiber.StatusBadRequest || body["field"] != "amount" {
		t.Fatalf("expected amount validation error, got %d %v", resp.StatusCode, body)
	}
	if got := f.count("/withdrawals"); got != 0 {
		t.Fatalf("server called %d times", got)
	}

	resp, body = f.request(t, fiber.MethodPost, "/withdrawals", `{"amount":60000,"bank_account_id":3}`)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("expected 201, got %d (%v)", resp.StatusCode, body)
	}
	if body["message"] != "Penarikan diproses" {
		t.Fatalf("unexpected message %v", body["message"])
	}
}

func TestForumUpload(t *testing.T) {
	f := newFixture(t)
	f.signIn(t, "tok-1", &session.UserProfile{Name: "Budi"}, nil)

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	_ = form.WriteField("description", "Penarikan lancar")
	part, _ := form.CreateFormFile("image", "bukti.jpg")
	part.Write([]byte("jpeg-bytes"))
	form.Close()

	req := httptest.NewRequest(fiber.MethodPost, "/forum", &buf)
	req.Header.Set(fiber.HeaderContentType, form.FormDataContentType())
	resp, body := f.send(t, req)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("expected 201, got %d (%v)", resp.StatusCode, body)
	}
	if body["message"] != "Testimoni terkirim" {
		t.Fatalf("unexpected message %v", body["message"])
	}
}

func TestLogoutClearsSession(t *testing.T) {
	f := newFixture(t)
	f.signIn(t, "tok-1", &session.UserProfile{Name: "Budi"}, nil)

	resp, body := f.request(t, fiber.MethodPost, "/logout", "")
	if resp.StatusCode != fiber.StatusOK || body["redirect"] != "/login" {
		t.Fatalf("unexpected logout response %d %v", resp.StatusCode, body)
	}
	if sess, _ := f.store.Load(context.Background()); sess != nil {
		t.Fatal("logout must clear the session")
	}
	if f.loop.Stops() == 0 {
		t.Fatal("logout must stop the refresh loop")
	}
	f.expectTokenChanged(t)

	_, status := f.request(t, fiber.MethodGet, "/session", "")
	if status["valid"] != false {
		t.Fatalf("expected invalid session status, got %v", status)
	}
}

func TestSessionStatusReportsRemaining(t *testing.T) {
	f := newFixture(t)
	f.signIn(t, "tok-1", &session.UserProfile{Name: "Budi"}, nil)
	f.clock.Add(15 * time.Minute)

	_, body := f.request(t, fiber.MethodGet, "/session", "")
	if body["valid"] != true {
		t.Fatalf("expected valid session, got %v", body)
	}
	if body["remaining_seconds"] != float64(45*60) {
		t.Fatalf("unexpected remaining %v", body["remaining_seconds"])
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)

	resp, body := f.request(t, fiber.MethodGet, "/healthz", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d (%v)", resp.StatusCode, body)
	}
	status, _ := body["status"].(map[string]any)
	if status["redis"] != "ok" || status["api"] != "ok" {
		t.Fatalf("unexpected health %v", status)
	}
}

func TestParsePrizes(t *testing.T) {
	prizes, err := ParsePrizes("ZONK:Coba lagi, CASH_5K:Rp 5.000")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(prizes) != 2 || prizes[1].Code != "CASH_5K" || prizes[1].Label != "Rp 5.000" {
		t.Fatalf("unexpected prizes %+v", prizes)
	}
	if _, err := ParsePrizes("broken"); err == nil {
		t.Fatal("expected error for entry without label separator")
	}
	if def, _ := ParsePrizes(""); len(def) != len(DefaultPrizes) {
		t.Fatal("empty layout should use default prizes")
	}
}
