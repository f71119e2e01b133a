package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/clinic-chat/internal/auth"
	"github.com/spec-kit/clinic-chat/internal/config"
	"github.com/spec-kit/clinic-chat/internal/domain"
	"github.com/spec-kit/clinic-chat/internal/observability"
	"github.com/spec-kit/clinic-chat/internal/persistence"
	"github.com/spec-kit/clinic-chat/pkg/chatclient"
)

const testSecret = "test-secret"

func testConfig() *config.Config {
	return &config.Config{
		App:  config.AppConfig{Name: "clinic-chat", Env: "development", Version: "test"},
		Auth: config.AuthConfig{JWTSecret: testSecret, AccessTokenTTLMinutes: 5},
		Realtime: config.RealtimeConfig{
			SendBuffer:   16,
			PingInterval: time.Second,
			PongWait:     5 * time.Second,
			WriteWait:    time.Second,
			MaxMessageKB: 64,
		},
		RateLimit: config.RateLimitConfig{SendRPS: 100, SendBurst: 100},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *server {
	t.Helper()
	return newServer(cfg, zap.NewNop(), observability.NewMetrics(), backends{
		postgres: &persistence.Postgres{},
		redis:    &persistence.Redis{},
	})
}

func bearer(t *testing.T, sender domain.Sender) string {
	t.Helper()
	token, _, err := auth.NewTokenManager(testSecret, 5).GenerateToken(sender)
	require.NoError(t, err)
	return "Bearer " + token
}

func doJSON(t *testing.T, srv *server, method, path, authz string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	resp, err := srv.app.Test(req, -1)
	require.NoError(t, err)
	out := map[string]interface{}{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestChatRoutes(t *testing.T) {
	srv := newTestServer(t, testConfig())
	clinic := bearer(t, domain.ClinicSender("clinic-1"))
	doctor := bearer(t, domain.DoctorSender("doctor-1"))
	triple := map[string]string{"patient_id": "patient-1", "doctor_id": "doctor-1", "clinic_id": "clinic-1"}

	resp, body := doJSON(t, srv, http.MethodPost, "/chats", "", triple)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", body["error"].(map[string]interface{})["code"])

	resp, body = doJSON(t, srv, http.MethodPost, "/chats", clinic, triple)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	threadID := body["data"].(map[string]interface{})["id"].(string)

	resp, body = doJSON(t, srv, http.MethodPost, "/chats", doctor, triple)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, threadID, body["data"].(map[string]interface{})["id"])

	resp, _ = doJSON(t, srv, http.MethodPost, "/chats/"+threadID+"/messages", clinic, map[string]interface{}{
		"body":        "scan attached",
		"attachments": []map[string]string{{"url": "https://cdn/scan.png", "filename": "scan.png", "type": "image"}},
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = doJSON(t, srv, http.MethodPost, "/chats/"+threadID+"/messages", clinic, map[string]string{"body": " "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, srv, http.MethodGet, "/chats/"+threadID+"/messages", bearer(t, domain.DoctorSender("doctor-2")), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = doJSON(t, srv, http.MethodGet, "/chats/"+threadID+"/messages", doctor, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	msgs := body["data"].([]interface{})
	require.Len(t, msgs, 1)
	first := msgs[0].(map[string]interface{})
	assert.Equal(t, "clinic", first["sender"].(map[string]interface{})["role"])
	assert.Len(t, first["attachments"], 1)

	resp, body = doJSON(t, srv, http.MethodPost, "/chats/"+threadID+"/read", doctor, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["data"].(map[string]interface{})["updated"])

	resp, body = doJSON(t, srv, http.MethodGet, "/chats?page=1&page_size=10", doctor, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["data"], 1)

	resp, _ = doJSON(t, srv, http.MethodGet, "/chats/not-a-uuid/messages", doctor, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, srv, http.MethodGet, "/ws", doctor, nil)
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}

func TestSendIsRateLimitedPerPrincipal(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{SendRPS: 0.001, SendBurst: 1}
	srv := newTestServer(t, cfg)
	clinic := bearer(t, domain.ClinicSender("clinic-1"))

	_, body := doJSON(t, srv, http.MethodPost, "/chats", clinic, map[string]string{"patient_id": "p", "doctor_id": "doctor-1", "clinic_id": "clinic-1"})
	threadID := body["data"].(map[string]interface{})["id"].(string)

	resp, _ := doJSON(t, srv, http.MethodPost, "/chats/"+threadID+"/messages", clinic, map[string]string{"body": "one"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, body = doJSON(t, srv, http.MethodPost, "/chats/"+threadID+"/messages", clinic, map[string]string{"body": "two"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "RATE_LIMITED", body["error"].(map[string]interface{})["code"])

	resp, _ = doJSON(t, srv, http.MethodPost, "/chats/"+threadID+"/messages", bearer(t, domain.DoctorSender("doctor-1")), map[string]string{"body": "three"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestHealthAndDevTokens(t *testing.T) {
	srv := newTestServer(t, testConfig())

	resp, body := doJSON(t, srv, http.MethodGet, "/health/ready", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	deps := body["dependencies"].(map[string]interface{})
	assert.Equal(t, "disabled", deps["postgres"])
	assert.Equal(t, "disabled", deps["redis"])

	resp, body = doJSON(t, srv, http.MethodPost, "/dev/tokens", "", map[string]string{"id": "doctor-1", "role": "doctor"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["data"].(map[string]interface{})["token"])

	resp, _ = doJSON(t, srv, http.MethodPost, "/dev/tokens", "", map[string]string{"id": "x", "role": "patient"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	cfg := testConfig()
	cfg.App.Env = "production"
	resp, _ = doJSON(t, newTestServer(t, cfg), http.MethodPost, "/dev/tokens", "", map[string]string{"id": "doctor-1", "role": "doctor"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func startListening(t *testing.T, srv *server) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.app.Listener(ln) }()
	t.Cleanup(func() { _ = srv.app.Shutdown() })
	return "http://" + ln.Addr().String()
}

func connectSession(t *testing.T, baseURL string, self chatclient.Sender) *chatclient.Session {
	t.Helper()
	ctx := context.Background()
	token, err := chatclient.IssueDevToken(ctx, baseURL, self, nil)
	require.NoError(t, err)

	channel, err := chatclient.NewRealtimeChannel(baseURL, token, chatclient.WithBackoff(20*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, channel.Connect(ctx))

	s := chatclient.NewSession(self, chatclient.NewAPI(baseURL, token, nil), channel)
	t.Cleanup(s.Close)
	return s
}

func TestEndToEndDelivery(t *testing.T) {
	srv := newTestServer(t, testConfig())
	baseURL := startListening(t, srv)
	ctx := context.Background()

	clinic := connectSession(t, baseURL, chatclient.Clinic("clinic-1"))
	doctor := connectSession(t, baseURL, chatclient.Doctor("doctor-1"))

	thread, err := clinic.OpenThread(ctx, "doctor-1", "patient-1")
	require.NoError(t, err)
	same, err := doctor.OpenThread(ctx, "clinic-1", "patient-1")
	require.NoError(t, err)
	require.Equal(t, thread.ID, same.ID)
	require.Eventually(t, func() bool { return srv.hub.Members(thread.ID) == 2 }, 2*time.Second, 10*time.Millisecond)

	_, err = clinic.Send(ctx, "Hello")
	require.NoError(t, err)
	clinic.Wait()

	sent := clinic.Entries()
	require.Len(t, sent, 1)
	assert.Equal(t, chatclient.StateSent, sent[0].State)
	assert.False(t, chatclient.IsTempID(sent[0].Message.ID))

	require.Eventually(t, func() bool { return len(doctor.Entries()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, sent[0].Message.ID, doctor.Entries()[0].Message.ID)

	// the clinic's own echo never adds a second copy
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, clinic.Entries(), 1)

	doctor.CloseThread()
	require.Eventually(t, func() bool { return srv.hub.Members(thread.ID) == 1 }, 2*time.Second, 10*time.Millisecond)

	_, err = clinic.Send(ctx, "Are you there?")
	require.NoError(t, err)
	clinic.Wait()
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, doctor.Entries())

	reopened, err := doctor.OpenThread(ctx, "clinic-1", "patient-1")
	require.NoError(t, err)
	assert.Equal(t, thread.ID, reopened.ID)
	history := doctor.Entries()
	require.Len(t, history, 2)
	assert.True(t, history[0].Message.Read)
}
