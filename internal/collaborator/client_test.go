package collaborator

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(handler http.Handler) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	c := NewClient(srv.URL, "user", "pass", 5*time.Second)
	return c, srv
}

func TestAuthenticateStoresToken(t *testing.T) {
	var gotBody map[string]string
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/webapi/Login", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"Data": map[string]any{"Token": "abc123"},
		})
	}))
	defer srv.Close()

	require.NoError(t, c.Authenticate(context.Background()))
	assert.Equal(t, "abc123", c.token)
	assert.Equal(t, "user", gotBody["username"])
	assert.Equal(t, "pass", gotBody["password"])
}

func TestAuthenticateEmptyToken(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"Data": map[string]any{}})
	}))
	defer srv.Close()

	err := c.Authenticate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty token")
}

func TestCreateTaskReturnsObjID(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/webapi/Task/Create", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var body struct {
			TemplateID int         `json:"TemplateID"`
			FormFields []FormField `json:"FormFields"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, TemplateID, body.TemplateID)
		require.Len(t, body.FormFields, 2)
		assert.Equal(t, FieldType, body.FormFields[0].FieldID)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"Data": map[string]any{"ObjID": 99},
		})
	}))
	defer srv.Close()
	c.token = "tok"

	objID, err := c.CreateTask(context.Background(), []FormField{
		{FieldID: FieldType, FieldValue: "Water"},
		{FieldID: FieldDescription, FieldValue: "Burst pipe"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(99), objID)
}

func TestGetTaskDecodesFormFields(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/webapi/Task/99", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"Data": map[string]any{
				"ObjID":  99,
				"Status": "Registered",
				"FormFields": []FormField{
					{FieldID: FieldType, FieldValue: "Water"},
					{FieldID: FieldMobileReference, FieldValue: "MOB-1"},
					{FieldID: FieldOnPremReference, FieldValue: "PREM-1"},
				},
			},
		})
	}))
	defer srv.Close()

	detail, err := c.GetTask(context.Background(), 99)
	require.NoError(t, err)
	assert.Equal(t, int64(99), detail.ObjID)
	assert.Equal(t, "Registered", detail.Status)
	assert.Equal(t, "Water", detail.Type)
	assert.Equal(t, "MOB-1", detail.MobileReference)
	assert.Equal(t, "PREM-1", detail.OnPremisReference)
}

func TestCreateAttachmentSendsMultipart(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/webapi/Attachment/Create", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		assert.Equal(t, "42", r.FormValue("ObjID"))
		assert.Equal(t, "image/png", r.FormValue("ContentType"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "photo.png", header.Filename)
		data, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, "png-bytes", string(data))

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := c.CreateAttachment(context.Background(), 42, "photo.png", "image/png", strings.NewReader("png-bytes"))
	require.NoError(t, err)
}

func TestSetTaskStatusSendsStatusField(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/webapi/Task/Update", r.URL.Path)
		var body struct {
			ObjID      int64       `json:"ObjID"`
			FormFields []FormField `json:"FormFields"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, int64(7), body.ObjID)
		require.Len(t, body.FormFields, 1)
		assert.Equal(t, FieldStatus, body.FormFields[0].FieldID)
		assert.Equal(t, StatusInitial, body.FormFields[0].FieldValue)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, c.SetTaskStatus(context.Background(), 7, StatusInitial))
}

func TestNon2xxIsAnError(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := c.SetTaskStatus(context.Background(), 7, StatusInitial)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
