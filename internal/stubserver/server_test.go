package stubserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"izajadmin/internal/models"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func seededServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := New("tok")
	s.Seed(
		models.Conversation{RoomID: "room-1", SessionID: "s1", CustomerName: "Ana", Unread: 2, CreatedAt: t0},
		[]models.Message{
			{ID: "a", Text: "Hello", Sender: models.SenderCustomer, CreatedAt: t0, RoomID: "room-1"},
		},
	)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return s, srv
}

func get(t *testing.T, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestRequiresToken(t *testing.T) {
	_, srv := seededServer(t)

	resp := get(t, srv.URL+"/api/messaging/conversations", "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = get(t, srv.URL+"/api/messaging/conversations", "wrong")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestConversationListing(t *testing.T) {
	_, srv := seededServer(t)

	resp := get(t, srv.URL+"/api/messaging/conversations", "tok")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Success       bool                        `json:"success"`
		Conversations []models.ConversationRecord `json:"conversations"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.True(t, body.Success)
	require.Len(t, body.Conversations, 1)
	require.Equal(t, "room-1", body.Conversations[0].RoomID)
	require.NotNil(t, body.Conversations[0].LastMessage)
	require.Equal(t, "Hello", body.Conversations[0].LastMessage.Text)
}

func TestMessageListingAndMarkRead(t *testing.T) {
	s, srv := seededServer(t)

	resp := get(t, srv.URL+"/api/messaging/conversations/room-1/messages", "tok")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Success      bool                     `json:"success"`
		Messages     []models.Message         `json:"messages"`
		Conversation *models.ConversationMeta `json:"conversation"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.True(t, body.Success)
	require.Len(t, body.Messages, 1)
	require.NotNil(t, body.Conversation)
	require.Equal(t, "Ana", body.Conversation.CustomerName)

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/messaging/conversations/room-1/read", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer tok")
	putResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = putResp.Body.Close() }()
	require.Equal(t, http.StatusOK, putResp.StatusCode)

	_, unread, err := s.RoomState("room-1")
	require.NoError(t, err)
	require.Equal(t, 0, unread)
}

func TestUnknownRoomIs404(t *testing.T) {
	_, srv := seededServer(t)
	resp := get(t, srv.URL+"/api/messaging/conversations/ghost/messages", "tok")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSimulateCustomerCreatesRoom(t *testing.T) {
	s := New("tok")
	s.SimulateCustomer("room-9", "Ben", "first contact")

	count, unread, err := s.RoomState("room-9")
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Equal(t, 1, unread)
}
