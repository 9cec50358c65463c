package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"chatrelay/internal/config"
	"chatrelay/internal/db"
	"chatrelay/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testConfig() config.Config {
	return config.Config{Port: "0", DatabaseDSN: "test", JWTSecret: "secret", Env: "dev", RecentMessagesLimit: 50}
}

func testEngine(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		dsn = "host=localhost user=postgres password=postgres dbname=chatrelay_test port=5432 sslmode=disable TimeZone=UTC"
	}
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Skipf("skip: db not available: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Skipf("skip: migrate failed: %v", err)
	}
	if err := gdb.Exec("TRUNCATE TABLE receipts, poll_votes, poll_options, attachments, messages").Error; err != nil {
		t.Fatalf("clean tables: %v", err)
	}
	return SetupRouter(testConfig(), gdb, ws.NewHub())
}

func TestHealthz(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := SetupRouter(testConfig(), nil, ws.NewHub())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func doJSON(t *testing.T, engine *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestREST_MessageLifecycle(t *testing.T) {
	engine := testEngine(t)

	w := doJSON(t, engine, http.MethodPost, "/api/v1/messages", gin.H{
		"author_id": "alice", "kind": "text", "content": "hi",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil || created.ID == "" {
		t.Fatalf("create: bad body %s", w.Body.String())
	}

	if w := doJSON(t, engine, http.MethodGet, "/api/v1/messages/"+created.ID, nil); w.Code != http.StatusOK {
		t.Errorf("get: expected 200, got %d", w.Code)
	}

	w = doJSON(t, engine, http.MethodPut, "/api/v1/messages/"+created.ID, gin.H{"content": "edited"})
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"edited":true`) {
		t.Errorf("update: expected edited message, got %d: %s", w.Code, w.Body.String())
	}

	if w := doJSON(t, engine, http.MethodGet, "/api/v1/messages?page=1&limit=10", nil); w.Code != http.StatusOK {
		t.Errorf("list: expected 200, got %d", w.Code)
	}

	if w := doJSON(t, engine, http.MethodDelete, "/api/v1/messages/"+created.ID, nil); w.Code != http.StatusOK {
		t.Errorf("delete: expected 200, got %d", w.Code)
	}
	if w := doJSON(t, engine, http.MethodGet, "/api/v1/messages/"+created.ID, nil); w.Code != http.StatusNotFound {
		t.Errorf("get after delete: expected 404, got %d", w.Code)
	}
}

func TestREST_UpdateRequiresContentField(t *testing.T) {
	engine := testEngine(t)

	w := doJSON(t, engine, http.MethodPost, "/api/v1/messages", gin.H{
		"author_id": "alice", "kind": "text", "content": "hi",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", w.Code)
	}
	var created struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &created)

	// A patch without the content key must not blank the text.
	if w := doJSON(t, engine, http.MethodPut, "/api/v1/messages/"+created.ID, gin.H{}); w.Code != http.StatusBadRequest {
		t.Errorf("update without content: expected 400, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, engine, http.MethodGet, "/api/v1/messages/"+created.ID, nil)
	if !strings.Contains(w.Body.String(), `"content":"hi"`) {
		t.Errorf("content changed by rejected patch: %s", w.Body.String())
	}
	if strings.Contains(w.Body.String(), `"edited":true`) {
		t.Errorf("rejected patch marked message edited: %s", w.Body.String())
	}

	// An explicit empty content is a valid patch.
	if w := doJSON(t, engine, http.MethodPut, "/api/v1/messages/"+created.ID, gin.H{"content": ""}); w.Code != http.StatusOK {
		t.Errorf("update with empty content: expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestREST_CreateValidation(t *testing.T) {
	engine := testEngine(t)

	w := doJSON(t, engine, http.MethodPost, "/api/v1/messages", gin.H{
		"author_id": "alice", "kind": "poll", "poll_options": []string{"only-one"},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("poll with one option: expected 400, got %d", w.Code)
	}
}

func TestREST_ReceiptsAndVotes(t *testing.T) {
	engine := testEngine(t)

	w := doJSON(t, engine, http.MethodPost, "/api/v1/messages", gin.H{
		"author_id": "alice", "kind": "poll", "poll_options": []string{"A", "B"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create poll: expected 201, got %d", w.Code)
	}
	var created struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &created)

	w = doJSON(t, engine, http.MethodPost, "/api/v1/messages/"+created.ID+"/receipts", gin.H{
		"recipients": []string{"bob", "carol"},
	})
	if w.Code != http.StatusOK {
		t.Errorf("init receipts: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, engine, http.MethodPut, "/api/v1/messages/"+created.ID+"/receipts/bob", gin.H{"status": "SEEN"})
	if w.Code != http.StatusOK {
		t.Errorf("set receipt: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, engine, http.MethodPost, "/api/v1/messages/"+created.ID+"/votes", gin.H{
		"user_id": "bob", "option_index": 1,
	})
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"bob"`) {
		t.Errorf("vote: expected 200 with bob in tally, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, engine, http.MethodPost, "/api/v1/messages/"+created.ID+"/votes", gin.H{
		"user_id": "bob", "option_index": 5,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("vote out of range: expected 400, got %d", w.Code)
	}
}

// --- websocket end-to-end ---

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	// Every connection is greeted with its recent-messages backlog.
	first := readEvent(t, conn)
	if first["type"] != "recentMessages" {
		t.Fatalf("first frame = %v, want recentMessages", first["type"])
	}
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read ws frame: %v", err)
	}
	var evt map[string]interface{}
	if err := json.Unmarshal(data, &evt); err != nil {
		t.Fatalf("decode ws frame %q: %v", data, err)
	}
	return evt
}

func sendEvent(t *testing.T, conn *websocket.Conn, evt interface{}) {
	t.Helper()
	_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := conn.WriteJSON(evt); err != nil {
		t.Fatalf("write ws frame: %v", err)
	}
}

func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, data, err := conn.ReadMessage(); err == nil {
		t.Errorf("expected no frame, got %s", data)
	}
}

func TestWS_RoomScopedDelivery(t *testing.T) {
	engine := testEngine(t)
	srv := httptest.NewServer(engine)
	defer srv.Close()

	a := dialWS(t, srv)
	b := dialWS(t, srv)
	outsider := dialWS(t, srv)

	sendEvent(t, a, gin.H{"type": "joinRoom", "room_id": "r1"})
	if ack := readEvent(t, a); ack["type"] != "ack" || ack["status"] != "ok" {
		t.Fatalf("join ack = %v", ack)
	}

	sendEvent(t, b, gin.H{"type": "joinRoom", "room_id": "r1"})
	if ack := readEvent(t, b); ack["status"] != "ok" {
		t.Fatalf("join ack = %v", ack)
	}
	// Existing members are told about the join; the joiner is not.
	if evt := readEvent(t, a); evt["type"] != "userJoined" || evt["room_id"] != "r1" {
		t.Fatalf("a got %v, want userJoined in r1", evt)
	}

	sendEvent(t, b, gin.H{
		"type": "sendMessage", "room_id": "r1",
		"author_id": "bob", "kind": "text", "content": "hi",
	})

	evt := readEvent(t, a)
	if evt["type"] != "newMessage" {
		t.Fatalf("a got %v, want newMessage", evt)
	}
	msg, _ := evt["message"].(map[string]interface{})
	if msg == nil || msg["content"] != "hi" || msg["author_id"] != "bob" {
		t.Errorf("a got message %v, want persisted {bob hi}", msg)
	}
	if msg["id"] == "" || msg["id"] == nil {
		t.Errorf("broadcast message has no persisted id: %v", msg)
	}

	// Sender is in the room, so it sees the broadcast, then its own ack.
	if evt := readEvent(t, b); evt["type"] != "newMessage" {
		t.Errorf("b got %v, want newMessage", evt)
	}
	if ack := readEvent(t, b); ack["type"] != "ack" || ack["status"] != "ok" {
		t.Errorf("b got %v, want ok ack", ack)
	}

	expectSilence(t, outsider)
}

func TestWS_JoinRequiresRoomID(t *testing.T) {
	engine := testEngine(t)
	srv := httptest.NewServer(engine)
	defer srv.Close()

	conn := dialWS(t, srv)
	sendEvent(t, conn, gin.H{"type": "joinRoom"})

	ack := readEvent(t, conn)
	if ack["type"] != "ack" || ack["status"] != "error" {
		t.Errorf("ack = %v, want error ack for missing room_id", ack)
	}
}

func TestWS_SendRequiresAudience(t *testing.T) {
	engine := testEngine(t)
	srv := httptest.NewServer(engine)
	defer srv.Close()

	conn := dialWS(t, srv)
	sendEvent(t, conn, gin.H{"type": "sendMessage", "author_id": "bob", "kind": "text", "content": "hi"})

	ack := readEvent(t, conn)
	if ack["status"] != "error" {
		t.Errorf("ack = %v, want error ack when no audience is named", ack)
	}
}

func TestWS_LeaveWithoutJoinIsQuiet(t *testing.T) {
	engine := testEngine(t)
	srv := httptest.NewServer(engine)
	defer srv.Close()

	member := dialWS(t, srv)
	sendEvent(t, member, gin.H{"type": "joinRoom", "room_id": "r1"})
	if ack := readEvent(t, member); ack["status"] != "ok" {
		t.Fatalf("join ack = %v", ack)
	}

	stranger := dialWS(t, srv)
	sendEvent(t, stranger, gin.H{"type": "leaveRoom", "room_id": "r1"})
	if ack := readEvent(t, stranger); ack["status"] != "ok" {
		t.Fatalf("leave ack = %v", ack)
	}

	// The member never saw the stranger join, so it gets no userLeft.
	expectSilence(t, member)
}

func TestWS_PingPong(t *testing.T) {
	engine := testEngine(t)
	srv := httptest.NewServer(engine)
	defer srv.Close()

	conn := dialWS(t, srv)
	sendEvent(t, conn, gin.H{"type": "ping"})

	evt := readEvent(t, conn)
	if evt["type"] != "pong" || evt["ts"] == nil {
		t.Errorf("got %v, want pong with ts", evt)
	}
}

func TestWS_DeliveredBroadcastScopedToParticipants(t *testing.T) {
	engine := testEngine(t)
	srv := httptest.NewServer(engine)
	defer srv.Close()

	bystander := dialWS(t, srv)
	sender := dialWS(t, srv)

	sendEvent(t, sender, gin.H{
		"type": "sendMessage", "recipients": []string{"bob"},
		"author_id": "alice", "kind": "text", "content": "for bob",
	})
	ack := readEvent(t, sender)
	if ack["status"] != "ok" {
		t.Fatalf("send ack = %v", ack)
	}
	id, _ := ack["id"].(string)

	sendEvent(t, sender, gin.H{"type": "messageDelivered", "message_id": id, "user_id": "bob"})
	if ack := readEvent(t, sender); ack["status"] != "ok" {
		t.Fatalf("delivered ack = %v", ack)
	}

	// Neither connection is authenticated as a participant, so the receipt
	// fan-out reaches no bystanders.
	expectSilence(t, bystander)
}
