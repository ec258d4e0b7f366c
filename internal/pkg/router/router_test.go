package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/pharmalink/pharmalink/app/controllers"
	"github.com/pharmalink/pharmalink/app/models"
	"github.com/pharmalink/pharmalink/app/repository"
	"github.com/pharmalink/pharmalink/internal/pkg/audit"
	"github.com/pharmalink/pharmalink/internal/pkg/billing"
	"github.com/pharmalink/pharmalink/internal/pkg/database/dbtest"
	"github.com/pharmalink/pharmalink/internal/pkg/entitlements"
	"github.com/pharmalink/pharmalink/internal/pkg/evidence"
	"github.com/pharmalink/pharmalink/internal/pkg/manualpay"
	"github.com/pharmalink/pharmalink/internal/pkg/middleware"
	"github.com/pharmalink/pharmalink/internal/pkg/reimbursement"
	"github.com/pharmalink/pharmalink/internal/pkg/statistics"
	"github.com/pharmalink/pharmalink/internal/pkg/storage"
)

const (
	jwtSecret     = "router-test-secret"
	webhookSecret = "router-webhook-secret"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01")

type stubProvider struct {
	mu   sync.Mutex
	next int
}

func (p *stubProvider) Name() string { return billing.ProviderChargily }

func (p *stubProvider) CreateCheckoutSession(_ context.Context, _ billing.CheckoutRequest) (*billing.ProviderCheckout, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	id := fmt.Sprintf("chk_%03d", p.next)
	return &billing.ProviderCheckout{ID: id, CheckoutURL: "https://pay.test/" + id, Status: billing.ProviderStatusPending}, nil
}

func (p *stubProvider) VerifySignature(payload []byte, signature string) bool {
	return billing.VerifyWebhookSignature(payload, signature, webhookSecret)
}

func (p *stubProvider) ParseWebhook(payload []byte) (*billing.WebhookEvent, error) {
	return billing.ParseChargilyWebhook(payload)
}

type testApp struct {
	app *fiber.App
	db  *gorm.DB
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	db := dbtest.Open(t)

	objects, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	recorder := audit.NewRecorder(db, nil)
	ledger := entitlements.NewLedger(db, entitlements.DefaultCatalog(), recorder, nil)
	checkout := billing.NewService(db, ledger, &stubProvider{}, nil, nil, billing.Options{SessionTTL: 30 * time.Minute})
	payments := manualpay.NewService(db, ledger, recorder, nil, manualpay.Options{})
	calc, err := reimbursement.NewCalculatorFromString("0.80")
	require.NoError(t, err)

	app := fiber.New()
	InstallRouter(app, Dependencies{
		Identity: middleware.IdentityConfig{
			Secret:   []byte(jwtSecret),
			Accounts: repository.NewAccountRepository(db),
		},
		Checkout:      controllers.NewCheckoutController(checkout),
		ManualPayment: controllers.NewManualPaymentController(payments, evidence.NewStore(objects, 1<<20)),
		Reimbursement: controllers.NewReimbursementController(calc),
		Entitlement:   controllers.NewEntitlementController(ledger),
		Admin:         controllers.NewAdminController(ledger, recorder, audit.NewSnapshotter(db, objects, nil), nil),
		Statistics:    controllers.NewStatisticsController(statistics.NewService(db, nil)),
	})
	return &testApp{app: app, db: db}
}

func token(t *testing.T, subject, role string) string {
	t.Helper()
	claims := middleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Email: subject + "@example.dz",
		Role:  role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return signed
}

func (a *testApp) do(t *testing.T, method, path, bearer string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if bearer != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+bearer)
	}
	return a.send(t, req)
}

func (a *testApp) send(t *testing.T, req *http.Request) (int, map[string]interface{}) {
	t.Helper()
	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]interface{}{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func TestPublicRoutes(t *testing.T) {
	a := newTestApp(t)

	status, body := a.do(t, http.MethodGet, "/api/v1/ping", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	status, body = a.do(t, http.MethodGet, "/api/v1/plans", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, body["plans"], len(entitlements.PaidPlans))

	status, body = a.do(t, http.MethodPost, "/api/v1/reimbursements/quote", "", map[string]interface{}{
		"category": "standard",
		"items": []map[string]interface{}{
			{"label": "Amoxicilline", "price": "1000.00", "reimbursable": true},
			{"label": "Vitamines", "price": "250.50", "reimbursable": false},
		},
	})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "800", body["reimbursed"])
	assert.Equal(t, "450.5", body["remaining"])
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	a := newTestApp(t)

	status, body := a.do(t, http.MethodGet, "/api/v1/entitlement", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", body["error"])

	status, _ = a.do(t, http.MethodGet, "/api/v1/entitlement", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = a.do(t, http.MethodGet, "/api/v1/admin/audit", token(t, "patient-1", "patient"), nil)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestEntitlementStartsFree(t *testing.T) {
	a := newTestApp(t)

	status, body := a.do(t, http.MethodGet, "/api/v1/entitlement", token(t, "patient-1", "patient"), nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "free", body["plan"])
	assert.Equal(t, false, body["active"])
}

func TestManualPaymentReviewFlow(t *testing.T) {
	a := newTestApp(t)
	patient := token(t, "patient-1", "patient")
	admin := token(t, "admin-1", "admin")

	status, body := a.do(t, http.MethodPost, "/api/v1/manual-payments", patient, map[string]interface{}{
		"plan": "premium", "amount": 1500, "evidence_ref": "baridimob:TX-42",
	})
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, "pending", body["status"])
	id := int(body["id"].(float64))

	status, body = a.do(t, http.MethodGet, "/api/v1/admin/manual-payments?status=pending", admin, nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["total"])

	status, body = a.do(t, http.MethodPost, fmt.Sprintf("/api/v1/admin/manual-payments/%d/approve", id), admin, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "approved", body["status"])

	status, body = a.do(t, http.MethodPost, fmt.Sprintf("/api/v1/admin/manual-payments/%d/reject", id), admin, map[string]string{"reason": "late"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "already_reviewed", body["error"])

	status, body = a.do(t, http.MethodGet, "/api/v1/entitlement", patient, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "premium", body["plan"])
	assert.Equal(t, true, body["active"])

	status, body = a.do(t, http.MethodGet, "/api/v1/admin/audit?entity_table=manual_payment_submissions", admin, nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 2, body["total"])
}

func TestManualPaymentValidation(t *testing.T) {
	a := newTestApp(t)
	patient := token(t, "patient-1", "patient")

	status, body := a.do(t, http.MethodPost, "/api/v1/manual-payments", patient, map[string]interface{}{
		"plan": "premium", "amount": 0, "evidence_ref": "x",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "validation_error", body["error"])

	status, _ = a.do(t, http.MethodPost, "/api/v1/manual-payments", patient, map[string]interface{}{
		"plan": "free", "amount": 100, "evidence_ref": "x",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	status, _ = a.do(t, http.MethodPost, "/api/v1/manual-payments", patient, map[string]interface{}{
		"plan": "premium", "amount": 100,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
}

func TestManualPaymentReceiptUpload(t *testing.T) {
	a := newTestApp(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("plan", "professional"))
	require.NoError(t, w.WriteField("amount", "3000"))
	part, err := w.CreateFormFile("receipt", "receipt.png")
	require.NoError(t, err)
	_, err = part.Write(pngHeader)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/manual-payments", &buf)
	req.Header.Set(fiber.HeaderContentType, w.FormDataContentType())
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token(t, "pharmacy-1", "pharmacy"))

	status, body := a.send(t, req)
	require.Equal(t, http.StatusCreated, status, body)
	assert.Contains(t, body["evidence_ref"], "evidence/")
	assert.Equal(t, "professional", body["plan"])
}

func TestAdminReceiptDownload(t *testing.T) {
	a := newTestApp(t)
	admin := token(t, "admin-1", "admin")

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("plan", "premium"))
	require.NoError(t, w.WriteField("amount", "1500"))
	part, err := w.CreateFormFile("receipt", "recu.png")
	require.NoError(t, err)
	_, err = part.Write(pngHeader)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/manual-payments", &buf)
	req.Header.Set(fiber.HeaderContentType, w.FormDataContentType())
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token(t, "pharmacy-1", "pharmacy"))
	status, body := a.send(t, req)
	require.Equal(t, http.StatusCreated, status, body)
	id := fmt.Sprintf("%v", body["id"])

	req = httptest.NewRequest(http.MethodGet, "/api/v1/admin/manual-payments/"+id+"/receipt", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+admin)
	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get(fiber.HeaderContentType))
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, pngHeader, raw)

	// patients cannot read receipts
	status, _ = a.do(t, http.MethodGet, "/api/v1/admin/manual-payments/"+id+"/receipt", token(t, "patient-1", "patient"), nil)
	assert.Equal(t, http.StatusForbidden, status)

	// a submission referencing an external URL is redirected
	status, body = a.do(t, http.MethodPost, "/api/v1/manual-payments", token(t, "pharmacy-2", "pharmacy"), map[string]interface{}{
		"plan": "premium", "amount": 1500, "evidence_ref": "https://receipts.example.dz/r/42.png",
	})
	require.Equal(t, http.StatusCreated, status, body)
	req = httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/admin/manual-payments/%v/receipt", body["id"]), nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+admin)
	resp2, err := a.app.Test(req, -1)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusFound, resp2.StatusCode)
	assert.Equal(t, "https://receipts.example.dz/r/42.png", resp2.Header.Get(fiber.HeaderLocation))

	status, body = a.do(t, http.MethodGet, "/api/v1/admin/manual-payments/999/receipt", admin, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", body["error"])
}

func TestCheckoutAndWebhook(t *testing.T) {
	a := newTestApp(t)
	patient := token(t, "patient-1", "patient")

	status, body := a.do(t, http.MethodPost, "/api/v1/checkout/sessions", patient, map[string]string{"plan": "premium"})
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, "chk_001", body["id"])
	assert.EqualValues(t, 1500, body["amount"])
	assert.Equal(t, "https://pay.test/chk_001", body["checkout_url"])
	assert.Equal(t, false, body["granted"])

	// another caller cannot see the session
	status, _ = a.do(t, http.MethodGet, "/api/v1/checkout/sessions/chk_001", token(t, "patient-2", "patient"), nil)
	assert.Equal(t, http.StatusNotFound, status)

	payload := []byte(`{"id":"evt_1","entity":"event","type":"checkout.paid","data":{"id":"chk_001","entity":"checkout","status":"paid"}}`)
	webhook := func(signature string) (int, map[string]interface{}) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", bytes.NewReader(payload))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		req.Header.Set("signature", signature)
		return a.send(t, req)
	}

	status, body = webhook("deadbeef")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "invalid_signature", body["error"])

	status, body = webhook(billing.SignPayload(payload, webhookSecret))
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, billing.WebhookProcessed, body["status"])

	status, body = webhook(billing.SignPayload(payload, webhookSecret))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, billing.WebhookDuplicate, body["status"])

	status, body = a.do(t, http.MethodGet, "/api/v1/checkout/sessions/chk_001", patient, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, string(models.SessionStatusConfirmed), body["status"])
	assert.Equal(t, true, body["granted"])

	var grants int64
	require.NoError(t, a.db.Model(&models.EntitlementGrant{}).Count(&grants).Error)
	assert.Equal(t, int64(1), grants)
}

func TestAdminRevokeAndSnapshot(t *testing.T) {
	a := newTestApp(t)
	admin := token(t, "admin-1", "admin")
	patient := token(t, "patient-1", "patient")

	status, _ := a.do(t, http.MethodPost, "/api/v1/manual-payments", patient, map[string]interface{}{
		"plan": "premium", "amount": 1500, "evidence_ref": "baridimob:TX-1",
	})
	require.Equal(t, http.StatusCreated, status)
	status, _ = a.do(t, http.MethodPost, "/api/v1/admin/manual-payments/1/approve", admin, nil)
	require.Equal(t, http.StatusOK, status)

	var acc models.Account
	require.NoError(t, a.db.Where("external_id = ?", "patient-1").First(&acc).Error)

	status, body := a.do(t, http.MethodPost, fmt.Sprintf("/api/v1/admin/accounts/%d/revoke", acc.ID), admin, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "free", body["plan"])

	status, _ = a.do(t, http.MethodPost, "/api/v1/admin/accounts/9999/revoke", admin, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, body = a.do(t, http.MethodPost, "/api/v1/admin/snapshots", admin, map[string]interface{}{"tables": []string{"accounts", "audit_entries"}})
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, string(models.SnapshotStatusCompleted), body["status"])
	snapID := body["id"].(string)

	status, body = a.do(t, http.MethodGet, "/api/v1/admin/snapshots/"+snapID, admin, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "accounts,audit_entries", body["included_entities"])

	status, _ = a.do(t, http.MethodPost, "/api/v1/admin/snapshots", admin, map[string]interface{}{"tables": []string{"users"}})
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	status, _ = a.do(t, http.MethodGet, "/api/v1/admin/jobs", admin, nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)

	status, body = a.do(t, http.MethodGet, "/api/v1/admin/stats", admin, nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 2, body["total_accounts"])
	assert.EqualValues(t, 0, body["active_paid"])
}
