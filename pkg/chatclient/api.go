package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Backend is the durable side of chat consumed by a Session.
type Backend interface {
	GetOrCreateChat(ctx context.Context, patientID, doctorID, clinicID string) (*Thread, error)
	ListMessages(ctx context.Context, threadID string) ([]Message, error)
	SendMessage(ctx context.Context, threadID, body string, attachments []Attachment) (*Message, error)
}

// APIError is a non-2xx response from the chat service.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("chat api: status %d", e.Status)
	}
	return fmt.Sprintf("chat api: %s: %s", e.Code, e.Message)
}

// API talks to the chat service over HTTP with a bearer token.
type API struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewAPI creates a client for baseURL. A nil httpClient gets a 15s timeout client.
func NewAPI(baseURL, token string, httpClient *http.Client) *API {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &API{baseURL: strings.TrimRight(baseURL, "/"), token: token, client: httpClient}
}

// GetOrCreateChat resolves the thread for the triple.
func (a *API) GetOrCreateChat(ctx context.Context, patientID, doctorID, clinicID string) (*Thread, error) {
	var thread Thread
	err := a.do(ctx, http.MethodPost, "/chats", map[string]string{
		"patient_id": patientID,
		"doctor_id":  doctorID,
		"clinic_id":  clinicID,
	}, &thread)
	if err != nil {
		return nil, err
	}
	return &thread, nil
}

// ListMessages returns the full history of a thread, oldest first.
func (a *API) ListMessages(ctx context.Context, threadID string) ([]Message, error) {
	var msgs []Message
	if err := a.do(ctx, http.MethodGet, "/chats/"+url.PathEscape(threadID)+"/messages", nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// SendMessage writes a message and returns its durable form.
func (a *API) SendMessage(ctx context.Context, threadID, body string, attachments []Attachment) (*Message, error) {
	var msg Message
	err := a.do(ctx, http.MethodPost, "/chats/"+url.PathEscape(threadID)+"/messages", map[string]interface{}{
		"body":        body,
		"attachments": attachments,
	}, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *API) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+a.token)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil && err != io.EOF {
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
	}
	return nil
}

// IssueDevToken asks a development server to mint a token for self.
func IssueDevToken(ctx context.Context, baseURL string, self Sender, httpClient *http.Client) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	a := NewAPI(baseURL, "", httpClient)
	if err := a.do(ctx, http.MethodPost, "/dev/tokens", self, &out); err != nil {
		return "", err
	}
	return out.Token, nil
}
