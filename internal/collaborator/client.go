package collaborator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"muni-portal/internal/metrics"
)

// API is the set of Collaborator Web API calls used by the portal. Every call
// is single-attempt: a failure surfaces to the caller unretried.
type API interface {
	Authenticate(ctx context.Context) error
	CreateTask(ctx context.Context, fields []FormField) (int64, error)
	GetTask(ctx context.Context, objID int64) (*TaskDetail, error)
	CreateAttachment(ctx context.Context, objID int64, filename, contentType string, body io.Reader) error
	SetTaskStatus(ctx context.Context, objID int64, status string) error
}

// Client talks to the Collaborator Web API. Authenticate must be called
// before any other method; the bearer token is kept for the client's
// lifetime.
type Client struct {
	baseURL    string
	username   string
	password   string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, username, password string, timeout time.Duration) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// record tracks one outbound call per operation.
func record(operation string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	metrics.CollaboratorCalls.WithLabelValues(operation, outcome).Inc()
}

// Authenticate logs in and stores the session token.
func (c *Client) Authenticate(ctx context.Context) error {
	payload, err := json.Marshal(map[string]string{
		"username": c.username,
		"password": c.password,
	})
	if err != nil {
		return err
	}

	var resp loginResponse
	err = c.post(ctx, "/webapi/Login", payload, &resp)
	record("login", err)
	if err != nil {
		return fmt.Errorf("collaborator login: %w", err)
	}
	if resp.Data.Token == "" {
		return fmt.Errorf("collaborator login: empty token in response")
	}
	c.token = resp.Data.Token
	return nil
}

// CreateTask creates a service request task from the given form fields and
// returns the remote object ID.
func (c *Client) CreateTask(ctx context.Context, fields []FormField) (int64, error) {
	payload, err := json.Marshal(map[string]any{
		"TemplateID": TemplateID,
		"FormFields": fields,
	})
	if err != nil {
		return 0, err
	}

	var resp createTaskResponse
	err = c.post(ctx, "/webapi/Task/Create", payload, &resp)
	record("create_task", err)
	if err != nil {
		return 0, fmt.Errorf("collaborator create task: %w", err)
	}
	if resp.Data.ObjID == 0 {
		return 0, fmt.Errorf("collaborator create task: no ObjID in response")
	}
	return resp.Data.ObjID, nil
}

// GetTask fetches the remote task detail for an object ID.
func (c *Client) GetTask(ctx context.Context, objID int64) (*TaskDetail, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/webapi/Task/%d", c.baseURL, objID), nil)
	if err != nil {
		return nil, err
	}

	var resp getTaskResponse
	err = c.do(req, &resp)
	record("get_task", err)
	if err != nil {
		return nil, fmt.Errorf("collaborator get task %d: %w", objID, err)
	}

	detail := &TaskDetail{
		ObjID:  resp.Data.ObjID,
		Status: resp.Data.Status,
		Fields: make(map[string]string, len(resp.Data.FormFields)),
	}
	for _, f := range resp.Data.FormFields {
		detail.Fields[f.FieldID] = f.FieldValue
	}
	detail.Type = detail.Fields[FieldType]
	detail.MobileReference = detail.Fields[FieldMobileReference]
	detail.OnPremisReference = detail.Fields[FieldOnPremReference]
	if detail.Status == "" {
		detail.Status = detail.Fields[FieldStatus]
	}
	return detail, nil
}

// CreateAttachment uploads a file against an existing remote task.
func (c *Client) CreateAttachment(ctx context.Context, objID int64, filename, contentType string, body io.Reader) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if err := mw.WriteField("ObjID", fmt.Sprintf("%d", objID)); err != nil {
		return err
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, body); err != nil {
		return err
	}
	if err := mw.WriteField("ContentType", contentType); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/webapi/Attachment/Create", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	err = c.do(req, nil)
	record("create_attachment", err)
	if err != nil {
		return fmt.Errorf("collaborator create attachment for %d: %w", objID, err)
	}
	return nil
}

// SetTaskStatus updates the status form field on an existing remote task.
func (c *Client) SetTaskStatus(ctx context.Context, objID int64, status string) error {
	payload, err := json.Marshal(map[string]any{
		"ObjID": objID,
		"FormFields": []FormField{
			{FieldID: FieldStatus, FieldValue: status},
		},
	})
	if err != nil {
		return err
	}

	err = c.post(ctx, "/webapi/Task/Update", payload, nil)
	record("set_status", err)
	if err != nil {
		return fmt.Errorf("collaborator set status %q on %d: %w", status, objID, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
