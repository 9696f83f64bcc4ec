package onebot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"go.uber.org/goleak"

	"grouplog/pkg/chatlog"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type actionHandler func(conn *websocket.Conn, action string, params gjson.Result) map[string]any

type fakeServer struct {
	server      *httptest.Server
	connections atomic.Int32
}

// newFakeServer starts a OneBot endpoint. onConnect runs before the read
// loop and may push frames; returning false closes the connection.
func newFakeServer(
	t *testing.T,
	token string,
	onConnect func(conn *websocket.Conn, index int32) bool,
	handle actionHandler,
) *fakeServer {
	t.Helper()

	fake := &fakeServer{}
	upgrader := websocket.Upgrader{}
	fake.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		index := fake.connections.Add(1)
		if onConnect != nil && !onConnect(conn, index) {
			return
		}
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			request := gjson.ParseBytes(payload)
			reply := handle(conn, request.Get("action").String(), request.Get("params"))
			if reply == nil {
				continue
			}
			reply["echo"] = request.Get("echo").String()
			if err := conn.WriteJSON(reply); err != nil {
				return
			}
		}
	}))

	return fake
}

func (f *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http")
}

func startClient(t *testing.T, fake *fakeServer, opts ...ClientOption) *Client {
	t.Helper()

	base := []ClientOption{
		WithReconnectBackoff(5*time.Millisecond, 20*time.Millisecond),
		WithRateLimit(0, 0),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	client, err := NewClient(fake.url(), append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- client.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
		fake.server.Close()
	})

	waitFor(t, client.Connected)

	return client
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func okReply(data any) map[string]any {
	return map[string]any{"status": "ok", "retcode": 0, "data": data}
}

func failedReply(retcode int, wording string) map[string]any {
	return map[string]any{"status": "failed", "retcode": retcode, "data": nil, "wording": wording}
}

func textNode(userID int, nickname string, at int64, text string) map[string]any {
	return map[string]any{
		"sender":  map[string]any{"user_id": userID, "nickname": nickname},
		"time":    at,
		"content": []any{map[string]any{"type": "text", "data": map[string]any{"text": text}}},
	}
}

func TestClientLookups(t *testing.T) {
	t.Parallel()

	fake := newFakeServer(t, "secret", nil, func(_ *websocket.Conn, action string, params gjson.Result) map[string]any {
		switch action {
		case actionGetGroupMemberInfo:
			if params.Get("group_id").Type != gjson.Number || params.Get("user_id").Type != gjson.Number {
				return failedReply(100, "ids must be numbers")
			}
			switch params.Get("user_id").String() {
			case "10001":
				return okReply(map[string]any{"card": "Card Name", "nickname": "Nick"})
			case "10002":
				return okReply(map[string]any{"card": "", "nickname": "Nick Only"})
			default:
				return failedReply(retCodeNotFound, "member not exist")
			}
		case actionGetMsg:
			if params.Get("message_id").String() != "42" {
				return failedReply(retCodeNotFound, "message not found")
			}
			return okReply(map[string]any{
				"message_id": 42,
				"time":       1000,
				"sender":     map[string]any{"user_id": 7, "nickname": "N", "card": "C"},
				"message":    []any{map[string]any{"type": "text", "data": map[string]any{"text": "hello"}}},
			})
		case actionGetGroupMsgHistory:
			return okReply(map[string]any{"messages": []any{
				map[string]any{"message_id": 3, "time": 300, "sender": map[string]any{"user_id": 1}, "message": "c"},
				map[string]any{"message_id": 1, "time": 100, "sender": map[string]any{"user_id": 1}, "message": "a"},
				map[string]any{"message_id": 2, "time": 200, "sender": map[string]any{"user_id": 1}, "message": "b"},
			}})
		case actionGetForwardMsg:
			return okReply(map[string]any{"messages": []any{textNode(5, "E", 50, "inside")}})
		default:
			return failedReply(1400, "unknown action")
		}
	})
	client := startClient(t, fake, WithAccessToken("secret"))
	ctx := context.Background()

	t.Run("member name prefers card", func(t *testing.T) {
		name, found, err := client.GetMemberName(ctx, "123", "10001")
		if err != nil || !found || name != "Card Name" {
			t.Fatalf("GetMemberName() = %q, %v, %v; want Card Name", name, found, err)
		}
	})

	t.Run("member name falls back to nickname", func(t *testing.T) {
		name, found, err := client.GetMemberName(ctx, "123", "10002")
		if err != nil || !found || name != "Nick Only" {
			t.Fatalf("GetMemberName() = %q, %v, %v; want Nick Only", name, found, err)
		}
	})

	t.Run("missing member is absent", func(t *testing.T) {
		_, found, err := client.GetMemberName(ctx, "123", "99999")
		if err != nil || found {
			t.Fatalf("GetMemberName() found=%v err=%v; want absent", found, err)
		}
	})

	t.Run("get message", func(t *testing.T) {
		message, found, err := client.GetMessage(ctx, "42")
		if err != nil || !found {
			t.Fatalf("GetMessage() found=%v err=%v", found, err)
		}
		want := chatlog.RawMessage{
			ID:       "42",
			Sender:   chatlog.Sender{UserID: "7", Nickname: "N", Card: "C"},
			Time:     1000,
			Segments: []chatlog.Segment{chatlog.TextSegment{Text: "hello"}},
		}
		if !reflect.DeepEqual(message, want) {
			t.Fatalf("GetMessage() = %+v, want %+v", message, want)
		}
	})

	t.Run("missing message is absent", func(t *testing.T) {
		_, found, err := client.GetMessage(ctx, "404")
		if err != nil || found {
			t.Fatalf("GetMessage() found=%v err=%v; want absent", found, err)
		}
	})

	t.Run("history is oldest first and bounded", func(t *testing.T) {
		messages, found, err := client.GetRecentMessages(ctx, "123", 2)
		if err != nil || !found {
			t.Fatalf("GetRecentMessages() found=%v err=%v", found, err)
		}
		ids := make([]string, 0, len(messages))
		for _, message := range messages {
			ids = append(ids, message.ID)
		}
		if !reflect.DeepEqual(ids, []string{"2", "3"}) {
			t.Fatalf("history ids = %v, want [2 3]", ids)
		}
	})

	t.Run("forward messages", func(t *testing.T) {
		messages, found, err := client.GetForwardMessages(ctx, "fw")
		if err != nil || !found || len(messages) != 1 {
			t.Fatalf("GetForwardMessages() = %v, %v, %v", messages, found, err)
		}
		if messages[0].Sender.Nickname != "E" || messages[0].Time != 50 {
			t.Fatalf("forward node = %+v", messages[0])
		}
	})
}

func TestClientCallFailures(t *testing.T) {
	t.Parallel()

	fake := newFakeServer(t, "", nil, func(conn *websocket.Conn, action string, _ gjson.Result) map[string]any {
		switch action {
		case "rejected":
			return failedReply(100, "bad request")
		case "silent":
			return nil
		case "hangup":
			_ = conn.Close()
			return nil
		default:
			return okReply(nil)
		}
	})
	client := startClient(t, fake, WithCallTimeout(50*time.Millisecond))

	tests := []struct {
		name          string
		action        string
		wantTransient bool
		wantKind      chatlog.LookupErrorKind
	}{
		{name: "failed status is permanent", action: "rejected", wantKind: chatlog.LookupErrorKindPermanent},
		{name: "missing response times out", action: "silent", wantTransient: true, wantKind: chatlog.LookupErrorKindTransient},
		{name: "disconnect fails pending call", action: "hangup", wantTransient: true, wantKind: chatlog.LookupErrorKindTransient},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			waitFor(t, client.Connected)

			_, err := client.Call(context.Background(), testCase.action, nil)
			if err == nil {
				t.Fatal("Call() error = nil, want failure")
			}
			if got := chatlog.IsTransient(err); got != testCase.wantTransient {
				t.Fatalf("IsTransient(%v) = %v, want %v", err, got, testCase.wantTransient)
			}
			lookupErr, ok := chatlog.AsLookupError(err)
			if !ok || lookupErr.Kind != testCase.wantKind {
				t.Fatalf("Call() error = %v, want kind %s", err, testCase.wantKind)
			}
		})
	}
}

func TestClientCallWithoutConnectionIsTransient(t *testing.T) {
	t.Parallel()

	client, err := NewClient("ws://127.0.0.1:1")
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}

	_, err = client.Call(context.Background(), actionGetMsg, nil)
	if !chatlog.IsTransient(err) || !errors.Is(err, errNotConnected) {
		t.Fatalf("Call() error = %v, want transient not connected", err)
	}
}

func TestClientDeliversGroupTriggers(t *testing.T) {
	t.Parallel()

	pushed := make(chan struct{})
	fake := newFakeServer(t, "", func(conn *websocket.Conn, _ int32) bool {
		<-pushed
		frames := []map[string]any{
			{"post_type": "meta_event", "meta_event_type": "heartbeat"},
			{"post_type": "message", "message_type": "private", "user_id": 1, "message_id": 10},
			{"post_type": "message", "message_type": "group", "group_id": 123, "message_id": 11, "time": 99},
		}
		for _, frame := range frames {
			if err := conn.WriteJSON(frame); err != nil {
				return false
			}
		}
		return true
	}, func(*websocket.Conn, string, gjson.Result) map[string]any {
		return nil
	})

	client := startClient(t, fake)
	close(pushed)

	select {
	case trigger := <-client.Triggers():
		want := chatlog.GroupTrigger{GroupID: "123", MessageID: "11", Time: 99}
		if trigger != want {
			t.Fatalf("trigger = %+v, want %+v", trigger, want)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no trigger delivered")
	}

	select {
	case trigger, ok := <-client.Triggers():
		if ok {
			t.Fatalf("unexpected extra trigger %+v", trigger)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClientReconnectsAfterDrop(t *testing.T) {
	t.Parallel()

	fake := newFakeServer(t, "", func(_ *websocket.Conn, index int32) bool {
		return index > 1
	}, func(*websocket.Conn, string, gjson.Result) map[string]any {
		return okReply(map[string]any{"pong": true})
	})
	client := startClient(t, fake)

	waitFor(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		data, err := client.Call(ctx, "ping", nil)
		return err == nil && data.Get("pong").Bool()
	})
	if got := fake.connections.Load(); got < 2 {
		t.Fatalf("connections = %d, want >= 2", got)
	}
}

func TestClientRunClosesTriggers(t *testing.T) {
	t.Parallel()

	client, err := NewClient("ws://127.0.0.1:1", WithReconnectBackoff(time.Millisecond, time.Millisecond))
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := client.Run(ctx); err != nil {
		t.Fatalf("Run() = %v, want nil", err)
	}
	if _, ok := <-client.Triggers(); ok {
		t.Fatal("triggers channel still open after Run")
	}
}
