package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/BTreeMap/CoachPipe/internal/flow"
	"github.com/BTreeMap/CoachPipe/internal/messaging"
	"github.com/BTreeMap/CoachPipe/internal/metrics"
	"github.com/BTreeMap/CoachPipe/internal/models"
	"github.com/BTreeMap/CoachPipe/internal/scenario"
	"github.com/BTreeMap/CoachPipe/internal/store"
	"github.com/BTreeMap/CoachPipe/internal/testutil"
)

// stubGenerator implements flow.Generator with fixed replies.
type stubGenerator struct {
	decision string
	err      error
}

var _ flow.Generator = (*stubGenerator)(nil)

func (g *stubGenerator) GenerateChildResponse(ctx context.Context, req flow.ChildRequest) (string, error) {
	return "Okay fine", g.err
}

func (g *stubGenerator) ClassifyDecision(ctx context.Context, req flow.DecisionRequest) (string, error) {
	return g.decision, g.err
}

func (g *stubGenerator) GenerateCoaching(ctx context.Context, req flow.CoachingRequest) (string, error) {
	return "Nice work", g.err
}

func (g *stubGenerator) GenerateSummary(ctx context.Context, req flow.SummaryRequest) (string, error) {
	return "well done", g.err
}

type testServer struct {
	srv   *Server
	store *store.InMemoryStore
	gen   *stubGenerator
}

func newTestServer(t *testing.T, opts ...Option) testServer {
	t.Helper()
	catalog, err := scenario.NewCatalog("en", map[string]*scenario.Config{"en": testutil.ScenarioConfig()})
	if err != nil {
		t.Fatalf("NewCatalog failed: %v", err)
	}
	st := store.NewInMemoryStore()
	gen := &stubGenerator{decision: "DECISION: 1\nREASONING: calm"}
	orchestrators := map[string]*flow.Orchestrator{
		"en": flow.NewOrchestrator(st, gen, catalog.Default()),
	}
	srv, err := NewServer(catalog, orchestrators, append([]Option{WithLatestMessageDelay(0)}, opts...)...)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	return testServer{srv: srv, store: st, gen: gen}
}

func (ts testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	ts.srv.ServeHTTP(rr, req)
	return rr
}

func TestNewServerRequiresOrchestratorPerLanguage(t *testing.T) {
	catalog, err := scenario.NewCatalog("en", map[string]*scenario.Config{
		"en": testutil.ScenarioConfig(),
		"es": testutil.ScenarioConfig(),
	})
	if err != nil {
		t.Fatalf("NewCatalog failed: %v", err)
	}
	orchestrators := map[string]*flow.Orchestrator{
		"en": flow.NewOrchestrator(store.NewInMemoryStore(), &stubGenerator{}, catalog.Default()),
	}
	if _, err := NewServer(catalog, orchestrators); err == nil {
		t.Error("expected error when a language has no orchestrator")
	}
	if _, err := NewServer(catalog, map[string]*flow.Orchestrator{"en": orchestrators["en"], "es": orchestrators["en"]},
		WithTwilioWebhook(messaging.NewMockSender(), nil, "")); err == nil {
		t.Error("expected error for webhook without validator")
	}
}

func TestChatHandlerSuccess(t *testing.T) {
	ts := newTestServer(t)
	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/chat", models.ChatRequest{ChatID: "c1", Message: "Time for bed"})
	rr := ts.do(req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "chat")

	var resp models.ChatResponse
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &resp)
	if resp.Response.ChildMessage != "🟢 Child: Okay fine" {
		t.Errorf("unexpected child message %q", resp.Response.ChildMessage)
	}
	if resp.Response.CoachingFeedback != "" {
		t.Errorf("child-only turn should carry no coaching, got %q", resp.Response.CoachingFeedback)
	}
	testutil.AssertRecordCount(t, ts.store, "c1", 1)
}

func TestChatHandlerBadRequests(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader("{not json"))
	rr := ts.do(req)
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "bad json")
	testutil.AssertJSONResponse(t, rr, "error")

	req = testutil.CreateHTTPRequest(t, http.MethodPost, "/chat", models.ChatRequest{ChatID: "c1"})
	rr = ts.do(req)
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "empty message")

	req = httptest.NewRequest(http.MethodGet, "/chat", nil)
	rr = ts.do(req)
	testutil.AssertHTTPStatus(t, http.StatusMethodNotAllowed, rr.Code, "wrong method")
}

func TestChatHandlerFinishedConversation(t *testing.T) {
	ts := newTestServer(t)
	testutil.SeedHistory(t, ts.store, testutil.Record("c1", "r1", models.StageFinish, nil))

	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/chat", models.ChatRequest{ChatID: "c1", Message: "hello?"})
	rr := ts.do(req)
	testutil.AssertHTTPStatus(t, http.StatusConflict, rr.Code, "finished")
	testutil.AssertJSONResponse(t, rr, "error")
}

func TestChatHandlerCoreErrors(t *testing.T) {
	tests := []struct {
		name     string
		decision string
		err      error
	}{
		{name: "generation failure", decision: "DECISION: 1", err: errors.New("upstream timeout")},
		{name: "missing decision", decision: "I think it went fine"},
		{name: "out of range decision", decision: "DECISION: 9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.gen.decision = tt.decision
			ts.gen.err = tt.err

			req := testutil.CreateHTTPRequest(t, http.MethodPost, "/chat", models.ChatRequest{ChatID: "c1", Message: "bed"})
			rr := ts.do(req)
			testutil.AssertHTTPStatus(t, http.StatusInternalServerError, rr.Code, tt.name)
			body := testutil.AssertJSONResponse(t, rr, "error")
			if body["message"] != "Failed to process message" {
				t.Errorf("core errors should use a generic message, got %v", body["message"])
			}
			testutil.AssertRecordCount(t, ts.store, "c1", 0)
		})
	}
}

func TestAPIKeyRequired(t *testing.T) {
	ts := newTestServer(t, WithAPIKey("secret"))

	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/chat", models.ChatRequest{ChatID: "c1", Message: "bed"})
	rr := ts.do(req)
	testutil.AssertHTTPStatus(t, http.StatusForbidden, rr.Code, "missing key")

	req = testutil.CreateHTTPRequest(t, http.MethodPost, "/chat", models.ChatRequest{ChatID: "c1", Message: "bed"})
	req.Header.Set("x-api-key", "wrong")
	rr = ts.do(req)
	testutil.AssertHTTPStatus(t, http.StatusForbidden, rr.Code, "wrong key")

	req = testutil.CreateHTTPRequest(t, http.MethodPost, "/chat", models.ChatRequest{ChatID: "c1", Message: "bed"})
	req.Header.Set("x-api-key", "secret")
	rr = ts.do(req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "correct key")

	// Public routes stay open.
	rr = ts.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "healthz")
}

func TestLatestChatMessage(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(httptest.NewRequest(http.MethodGet, "/latest-chat-msg", nil))
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "missing chat_id")

	rr = ts.do(httptest.NewRequest(http.MethodGet, "/latest-chat-msg?chat_id=c1", nil))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "empty history")

	ts.do(testutil.CreateHTTPRequest(t, http.MethodPost, "/chat", models.ChatRequest{ChatID: "c1", Message: "bed"}))
	rr = ts.do(httptest.NewRequest(http.MethodGet, "/latest-chat-msg?chat_id=c1", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "latest")
	var resp models.ChatResponse
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &resp)
	if resp.Response.ChildMessage != "🟢 Child: Okay fine" {
		t.Errorf("unexpected latest bundle %+v", resp.Response)
	}
}

func TestLatestChatMessageClientCancel(t *testing.T) {
	ts := newTestServer(t, WithLatestMessageDelay(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/latest-chat-msg?chat_id=c1", nil).WithContext(ctx)
	rr := ts.do(req)
	if rr.Body.Len() != 0 {
		t.Errorf("expected no body after cancellation, got %q", rr.Body.String())
	}
}

func TestTraceHandler(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(httptest.NewRequest(http.MethodGet, "/conversations/c1/trace", nil))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "empty trace")

	ts.do(testutil.CreateHTTPRequest(t, http.MethodPost, "/chat", models.ChatRequest{ChatID: "c1", Message: "Time for bed"}))

	rr = ts.do(httptest.NewRequest(http.MethodGet, "/conversations/c1/trace", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "yaml trace")
	if ct := rr.Header().Get("Content-Type"); ct != "application/yaml" {
		t.Errorf("unexpected content type %s", ct)
	}
	if !strings.HasPrefix(rr.Body.String(), "conversation_initiator: ") {
		t.Errorf("yaml trace should start with the initiator, got %q", rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "parent: Time for bed") {
		t.Errorf("yaml trace missing parent line: %q", rr.Body.String())
	}

	rr = ts.do(httptest.NewRequest(http.MethodGet, "/conversations/c1/trace?format=csv", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "csv trace")
	if !strings.HasPrefix(rr.Body.String(), "Turn,Interaction,Text") {
		t.Errorf("csv trace should start with the header, got %q", rr.Body.String())
	}

	rr = ts.do(httptest.NewRequest(http.MethodGet, "/conversations/c1/trace?format=xml", nil))
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "bad format")
}

func TestPublicRoutes(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(httptest.NewRequest(http.MethodGet, "/", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "root")
	var root map[string]string
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &root)
	if root["model"] != "child-model" {
		t.Errorf("unexpected model %q", root["model"])
	}

	for _, path := range []string{"/scenario", "/scenario1", "/scenario?lng=fr"} {
		rr = ts.do(httptest.NewRequest(http.MethodGet, path, nil))
		testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, path)
		var body map[string]string
		testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &body)
		if !strings.HasPrefix(body["response"], "Bedtime\n\nScenario: ") {
			t.Errorf("%s: unexpected intro %q", path, body["response"])
		}
	}

	rr = ts.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "healthz")
	var health map[string]string
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &health)
	if health["status"] != "healthy" {
		t.Errorf("unexpected health status %q", health["status"])
	}

	rr = ts.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "metrics without gatherer")
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	catalog, err := scenario.NewCatalog("en", map[string]*scenario.Config{"en": testutil.ScenarioConfig()})
	if err != nil {
		t.Fatalf("NewCatalog failed: %v", err)
	}
	orch := flow.NewOrchestrator(store.NewInMemoryStore(), &stubGenerator{decision: "DECISION: 1"}, catalog.Default(), flow.WithObserver(m))
	srv, err := NewServer(catalog, map[string]*flow.Orchestrator{"en": orch}, WithGatherer(reg))
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, testutil.CreateHTTPRequest(t, http.MethodPost, "/chat", models.ChatRequest{ChatID: "c1", Message: "bed"}))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "chat")

	rr = httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "metrics")
	if !strings.Contains(rr.Body.String(), "coachpipe_turns_total") {
		t.Errorf("metrics output missing turn counter:\n%s", rr.Body.String())
	}
}

const webhookURL = "https://coach.example.com/webhooks/twilio"

// twilioSignature computes the X-Twilio-Signature for a form post.
func twilioSignature(token, target string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	data := target
	for _, k := range keys {
		data += k + form.Get(k)
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func webhookRequest(form url.Values, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if signature != "" {
		req.Header.Set("X-Twilio-Signature", signature)
	}
	return req
}

func TestTwilioWebhook(t *testing.T) {
	sender := messaging.NewMockSender()
	ts := newTestServer(t, WithTwilioWebhook(sender, messaging.NewSignatureValidator("tok"), webhookURL))

	form := url.Values{"From": {"whatsapp:+15552223333"}, "Body": {"I love you, bed now"}, "MessageSid": {"SM1"}}
	rr := ts.do(webhookRequest(form, twilioSignature("tok", webhookURL, form)))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "webhook")
	if rr.Body.String() != emptyTwiML {
		t.Errorf("unexpected TwiML %q", rr.Body.String())
	}

	sent := sender.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected one reply line, got %+v", sent)
	}
	if sent[0].To != "whatsapp:+15552223333" || sent[0].Body != "🟢 Child: Okay fine" {
		t.Errorf("unexpected reply %+v", sent[0])
	}

	// Twilio retries reuse the MessageSid and must not create a second record.
	ts.do(webhookRequest(form, twilioSignature("tok", webhookURL, form)))
	testutil.AssertRecordCount(t, ts.store, "whatsapp:+15552223333", 1)
}

func TestTwilioWebhookLanguage(t *testing.T) {
	es := testutil.ScenarioConfig()
	es.StaticMessages.Child = "Niño"
	catalog, err := scenario.NewCatalog("en", map[string]*scenario.Config{"en": testutil.ScenarioConfig(), "es": es})
	if err != nil {
		t.Fatalf("NewCatalog failed: %v", err)
	}
	st := store.NewInMemoryStore()
	gen := &stubGenerator{decision: "DECISION: 1"}
	locks := flow.NewConversationLocks()
	orchestrators := map[string]*flow.Orchestrator{
		"en": flow.NewOrchestrator(st, gen, catalog.Get("en"), flow.WithConversationLocks(locks)),
		"es": flow.NewOrchestrator(st, gen, es, flow.WithConversationLocks(locks)),
	}
	sender := messaging.NewMockSender()
	webhook := WithTwilioWebhook(sender, messaging.NewSignatureValidator("tok"), webhookURL)

	if _, err := NewServer(catalog, orchestrators, webhook, WithWebhookLanguage("fr")); err == nil {
		t.Error("expected error for a webhook language outside the catalog")
	}

	srv, err := NewServer(catalog, orchestrators, webhook, WithWebhookLanguage("es"))
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	form := url.Values{"From": {"whatsapp:+15554445555"}, "Body": {"A la cama"}, "MessageSid": {"SM9"}}
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, webhookRequest(form, twilioSignature("tok", webhookURL, form)))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "webhook es")

	sent := sender.Sent()
	if len(sent) != 1 || sent[0].Body != "🟢 Niño: Okay fine" {
		t.Errorf("expected the reply in the webhook language, got %+v", sent)
	}
}

func TestTwilioWebhookRejectsBadSignature(t *testing.T) {
	sender := messaging.NewMockSender()
	ts := newTestServer(t, WithTwilioWebhook(sender, messaging.NewSignatureValidator("tok"), webhookURL))

	form := url.Values{"From": {"whatsapp:+1"}, "Body": {"hi"}, "MessageSid": {"SM1"}}
	for name, sig := range map[string]string{
		"missing":     "",
		"wrong token": twilioSignature("other", webhookURL, form),
	} {
		rr := ts.do(webhookRequest(form, sig))
		testutil.AssertHTTPStatus(t, http.StatusForbidden, rr.Code, name)
	}
	if len(sender.Sent()) != 0 {
		t.Error("no reply should be sent for rejected requests")
	}
	testutil.AssertRecordCount(t, ts.store, "whatsapp:+1", 0)
}

func TestTwilioWebhookSendFailure(t *testing.T) {
	sender := messaging.NewMockSender()
	sender.Err = errors.New("20003 auth")
	ts := newTestServer(t, WithTwilioWebhook(sender, messaging.NewSignatureValidator("tok"), webhookURL))

	form := url.Values{"From": {"whatsapp:+1"}, "Body": {"hi"}, "MessageSid": {"SM1"}}
	rr := ts.do(webhookRequest(form, twilioSignature("tok", webhookURL, form)))
	testutil.AssertHTTPStatus(t, http.StatusInternalServerError, rr.Code, "send failure")
}

func TestTwilioWebhookNotRegisteredWithoutSender(t *testing.T) {
	ts := newTestServer(t)
	rr := ts.do(webhookRequest(url.Values{"Body": {"hi"}}, ""))
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "webhook disabled")
}
