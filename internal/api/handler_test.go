package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"design-marketplace/internal/apperr"
	"design-marketplace/internal/auth"
	"design-marketplace/internal/models"
	"design-marketplace/internal/service"
	"design-marketplace/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type tokenIdentifier map[string]*auth.Identity

func (t tokenIdentifier) Identify(_ context.Context, header string) (*auth.Identity, error) {
	if header == "Bearer broken" {
		return nil, apperr.ErrUpstream
	}
	id, ok := t[strings.TrimPrefix(header, "Bearer ")]
	if !ok {
		return nil, apperr.ErrUnauthenticated
	}
	return id, nil
}

var testTokens = tokenIdentifier{
	"buyer":    {ID: "buyer-1", Roles: []auth.Role{auth.RoleBuyer}},
	"designer": {ID: "designer-1", Roles: []auth.Role{auth.RoleDesigner}},
	"admin":    {ID: "admin-1", Roles: []auth.Role{auth.RoleAdmin}},
}

type stubCheckout struct {
	caller   *auth.Identity
	designID string
	origin   string
	err      error
}

func (s *stubCheckout) CreateCheckoutSession(_ context.Context, caller *auth.Identity, designID, origin string) (*service.CreateCheckoutSessionResponse, error) {
	s.caller, s.designID, s.origin = caller, designID, origin
	if s.err != nil {
		return nil, s.err
	}
	return &service.CreateCheckoutSessionResponse{URL: "https://pay.example/cs_1", SessionID: "cs_1"}, nil
}

type stubWebhooks struct {
	payload   []byte
	signature string
	err       error
}

func (s *stubWebhooks) HandleWebhook(_ context.Context, payload []byte, signature string) (*service.WebhookResult, error) {
	s.payload, s.signature = payload, signature
	return &service.WebhookResult{EventID: "evt_1"}, s.err
}

type stubLicenses struct {
	id  string
	err error
}

func (s *stubLicenses) GenerateLicenseDocument(_ context.Context, id string) (string, error) {
	s.id = id
	if s.err != nil {
		return "", s.err
	}
	return "http://files/legal-docs/legal-" + id + ".html", nil
}

type stubDesigns struct {
	in  service.UploadDesignInput
	err error
}

func (s *stubDesigns) UploadDesign(_ context.Context, caller *auth.Identity, in service.UploadDesignInput) (*models.Design, error) {
	s.in = in
	if caller == nil {
		return nil, apperr.ErrUnauthenticated
	}
	if s.err != nil {
		return nil, s.err
	}
	return &models.Design{ID: "d-new", DesignerID: caller.ID, Title: in.Title, Status: models.DesignStatusAvailable}, nil
}

func (s *stubDesigns) GetDesign(_ context.Context, id string) (*models.Design, error) {
	if id != "d-1" {
		return nil, fmt.Errorf("%w: design not found", apperr.ErrNotFound)
	}
	return &models.Design{ID: "d-1", Title: "Neon Cat", Status: models.DesignStatusAvailable}, nil
}

type stubTransactions struct{}

func (stubTransactions) GetTransaction(_ context.Context, caller *auth.Identity, id string) (*models.Transaction, error) {
	if caller == nil {
		return nil, apperr.ErrUnauthenticated
	}
	if id != "tx-1" || caller.ID != "buyer-1" {
		return nil, apperr.ErrNotFound
	}
	return &models.Transaction{ID: "tx-1", BuyerID: "buyer-1", Status: models.TransactionStatusPaid}, nil
}

type stubFiles map[string]*store.Blob

func (s stubFiles) Get(_ context.Context, path string) (*store.Blob, error) {
	b, ok := s[path]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return b, nil
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

type testServer struct {
	router   *gin.Engine
	checkout *stubCheckout
	webhooks *stubWebhooks
	licenses *stubLicenses
	designs  *stubDesigns
	pinger   *stubPinger
}

func newTestServer() *testServer {
	s := &testServer{
		checkout: &stubCheckout{},
		webhooks: &stubWebhooks{},
		licenses: &stubLicenses{},
		designs:  &stubDesigns{},
		pinger:   &stubPinger{},
	}
	h := NewHandler(Dependencies{
		Checkout:     s.checkout,
		Webhooks:     s.webhooks,
		Licenses:     s.licenses,
		Designs:      s.designs,
		Transactions: stubTransactions{},
		Files: stubFiles{
			"designer-1/cat.png": {Path: "designer-1/cat.png", ContentType: "image/png", Data: []byte("png-bytes")},
		},
		Identity: testTokens,
		Database: s.pinger,
	})
	s.router = gin.New()
	h.SetupRoutes(s.router)
	return s
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func jsonRequest(method, path, token string, body interface{}) *http.Request {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealthAndReady(t *testing.T) {
	s := newTestServer()

	w := s.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	s.pinger.err = errors.New("db down")
	w = s.do(httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCreateCheckoutSessionEndpoint(t *testing.T) {
	s := newTestServer()
	req := jsonRequest(http.MethodPost, "/api/v1/checkout-sessions", "buyer", map[string]string{"design_id": "d-1"})
	req.Header.Set("Origin", "https://app.example")

	w := s.do(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, "https://pay.example/cs_1", body["url"])
	assert.Equal(t, "cs_1", body["sessionId"])
	require.NotNil(t, s.checkout.caller)
	assert.Equal(t, "buyer-1", s.checkout.caller.ID)
	assert.Equal(t, "d-1", s.checkout.designID)
	assert.Equal(t, "https://app.example", s.checkout.origin)
}

func TestCreateCheckoutSessionEndpointErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{apperr.ErrUnauthenticated, http.StatusUnauthorized},
		{fmt.Errorf("%w: only buyers", apperr.ErrForbidden), http.StatusForbidden},
		{fmt.Errorf("%w: design not found", apperr.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: design already purchased", apperr.ErrConflict), http.StatusBadRequest},
		{fmt.Errorf("%w: cannot purchase your own design", apperr.ErrInvalidOperation), http.StatusBadRequest},
		{fmt.Errorf("%w: stripe down", apperr.ErrUpstream), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		s := newTestServer()
		s.checkout.err = tc.err

		w := s.do(jsonRequest(http.MethodPost, "/api/v1/checkout-sessions", "buyer", map[string]string{"design_id": "d-1"}))
		assert.Equal(t, tc.want, w.Code, tc.err.Error())
		assert.NotEmpty(t, decode(t, w)["error"])
	}
}

func TestCheckoutWithInvalidTokenIsAnonymous(t *testing.T) {
	s := newTestServer()

	w := s.do(jsonRequest(http.MethodPost, "/api/v1/checkout-sessions", "forged", map[string]string{"design_id": "d-1"}))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, s.checkout.caller)
}

func TestCheckoutChecksCallerBeforeBody(t *testing.T) {
	h := NewHandler(Dependencies{
		Checkout: service.NewCheckoutService(nil, nil, "https://app.example"),
		Identity: testTokens,
		Database: &stubPinger{},
	})
	router := gin.New()
	h.SetupRoutes(router)

	cases := []struct {
		token string
		want  int
	}{
		{"", http.StatusUnauthorized},
		{"designer", http.StatusForbidden},
		{"buyer", http.StatusBadRequest},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout-sessions", strings.NewReader("{not json"))
		req.Header.Set("Content-Type", "application/json")
		if tc.token != "" {
			req.Header.Set("Authorization", "Bearer "+tc.token)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, tc.want, w.Code, tc.token)
	}
}

func TestIdentityLookupFailure(t *testing.T) {
	s := newTestServer()

	w := s.do(jsonRequest(http.MethodPost, "/api/v1/checkout-sessions", "broken", map[string]string{"design_id": "d-1"}))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Empty(t, s.checkout.designID)
}

func TestStripeWebhookEndpoint(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"processed", nil, http.StatusOK},
		{"bad signature", apperr.ErrInvalidSignature, http.StatusBadRequest},
		{"double sale", fmt.Errorf("%w: design sold", apperr.ErrConflict), http.StatusConflict},
		{"db failure", errors.New("connection reset"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer()
			s.webhooks.err = tc.err
			payload := `{"id":"evt_1","type":"checkout.session.completed"}`
			req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", strings.NewReader(payload))
			req.Header.Set("Stripe-Signature", "t=1,v1=abc")

			w := s.do(req)
			assert.Equal(t, tc.want, w.Code)
			assert.Equal(t, payload, string(s.webhooks.payload))
			assert.Equal(t, "t=1,v1=abc", s.webhooks.signature)
			if tc.err == nil {
				assert.Equal(t, true, decode(t, w)["received"])
			} else {
				assert.NotEmpty(t, decode(t, w)["error"])
			}
		})
	}
}

func TestGenerateLegalDocumentEndpoint(t *testing.T) {
	s := newTestServer()

	w := s.do(jsonRequest(http.MethodPost, "/internal/legal-documents", "admin", map[string]string{"transaction_id": "tx-1"}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "http://files/legal-docs/legal-tx-1.html", body["legal_doc_url"])
	assert.Equal(t, "tx-1", s.licenses.id)
}

func TestGenerateLegalDocumentEndpointErrors(t *testing.T) {
	s := newTestServer()

	w := s.do(jsonRequest(http.MethodPost, "/internal/legal-documents", "", map[string]string{"transaction_id": "tx-1"}))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(jsonRequest(http.MethodPost, "/internal/legal-documents", "buyer", map[string]string{"transaction_id": "tx-1"}))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(jsonRequest(http.MethodPost, "/internal/legal-documents", "admin", map[string]string{}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, s.licenses.id)

	s.licenses.err = fmt.Errorf("%w: transaction tx-9", apperr.ErrNotFound)
	w = s.do(jsonRequest(http.MethodPost, "/internal/legal-documents", "admin", map[string]string{"transaction_id": "tx-9"}))
	assert.Equal(t, http.StatusNotFound, w.Code)

	s.licenses.err = fmt.Errorf("%w: transaction tx-1", apperr.ErrAlreadyGenerated)
	w = s.do(jsonRequest(http.MethodPost, "/internal/legal-documents", "admin", map[string]string{"transaction_id": "tx-1"}))
	assert.Equal(t, http.StatusConflict, w.Code)
}

func multipartUpload(t *testing.T, token string, fields map[string]string, file []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if file != nil {
		fw, err := mw.CreateFormFile("file", "cat.png")
		require.NoError(t, err)
		_, err = fw.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/designs", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestUploadDesignEndpoint(t *testing.T) {
	s := newTestServer()
	fields := map[string]string{"title": "Neon Cat", "description": "Synthwave", "price": "49.00"}

	w := s.do(multipartUpload(t, "designer", fields, []byte("png-bytes")))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	assert.Equal(t, "Neon Cat", s.designs.in.Title)
	assert.Equal(t, "Synthwave", s.designs.in.Description)
	assert.Equal(t, "49.00", s.designs.in.Price)
	assert.Equal(t, "cat.png", s.designs.in.FileName)
	assert.Equal(t, []byte("png-bytes"), s.designs.in.Data)

	design := decode(t, w)["design"].(map[string]interface{})
	assert.Equal(t, "d-new", design["id"])
}

func TestUploadDesignEndpointWithoutFile(t *testing.T) {
	s := newTestServer()
	s.designs.err = fmt.Errorf("%w: file is required", apperr.ErrInvalidOperation)

	w := s.do(multipartUpload(t, "designer", map[string]string{"title": "x", "price": "1"}, nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, s.designs.in.Data)

	w = s.do(multipartUpload(t, "", map[string]string{"title": "x", "price": "1"}, []byte("png")))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetDesignAndTransaction(t *testing.T) {
	s := newTestServer()

	w := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/designs/d-1", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Neon Cat", decode(t, w)["title"])

	w = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/designs/d-2", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(jsonRequest(http.MethodGet, "/api/v1/transactions/tx-1", "buyer", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "paid", decode(t, w)["status"])

	w = s.do(jsonRequest(http.MethodGet, "/api/v1/transactions/tx-1", "", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(jsonRequest(http.MethodGet, "/api/v1/transactions/tx-1", "designer", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServeFile(t *testing.T) {
	s := newTestServer()

	w := s.do(httptest.NewRequest(http.MethodGet, "/files/designer-1/cat.png", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, "png-bytes", w.Body.String())

	w = s.do(httptest.NewRequest(http.MethodGet, "/files/missing.png", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
