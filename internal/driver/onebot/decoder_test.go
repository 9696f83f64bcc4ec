package onebot

import (
	"reflect"
	"strings"
	"testing"

	"github.com/tidwall/gjson"

	"grouplog/pkg/chatlog"
)

func TestDecodeMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload string
		want    chatlog.RawMessage
		wantErr string
	}{
		{
			name: "all segment kinds",
			payload: `{
				"message_id": 9001,
				"time": 1700000000,
				"sender": {"user_id": 10001, "nickname": " Alice ", "card": "Ali"},
				"message": [
					{"type": "text", "data": {"text": "hi "}},
					{"type": "image", "data": {"url": "https://img/1", "file": "a.png", "file_size": "42", "summary": "[pic]", "sub_type": 1}},
					{"type": "image", "data": {"url": "https://img/2", "emoji_id": "e1", "summary": "[wave]"}},
					{"type": "face", "data": {"id": "14", "raw": {"faceText": "/smile"}}},
					{"type": "at", "data": {"qq": "all"}},
					{"type": "at", "data": {"qq": 10002}},
					{"type": "dice", "data": {"result": 6}},
					{"type": "rps", "data": {"result": "2"}},
					{"type": "reply", "data": {"id": 8000}},
					{"type": "forward", "data": {"id": "fw1"}},
					{"type": "json", "data": {"data": "{\"prompt\":\"card\"}"}},
					{"type": "poke", "data": {}}
				]
			}`,
			want: chatlog.RawMessage{
				ID:     "9001",
				Sender: chatlog.Sender{UserID: "10001", Nickname: "Alice", Card: "Ali"},
				Time:   1700000000,
				Segments: []chatlog.Segment{
					chatlog.TextSegment{Text: "hi "},
					chatlog.ImageSegment{URL: "https://img/1", File: "a.png", FileSize: "42", Summary: "[pic]", SubType: 1},
					chatlog.ImageSegment{URL: "https://img/2", EmojiID: "e1", Summary: "[wave]"},
					chatlog.FaceSegment{ID: "14", Description: "/smile"},
					chatlog.MentionSegment{UserID: chatlog.MentionAll},
					chatlog.MentionSegment{UserID: "10002"},
					chatlog.DiceSegment{Result: "6"},
					chatlog.RPSSegment{Result: "2"},
					chatlog.ReplySegment{MessageID: "8000"},
					chatlog.ForwardSegment{ID: "fw1", Messages: nil, Inline: false},
					chatlog.JSONSegment{Data: `{"prompt":"card"}`},
					chatlog.UnknownSegment{Type: "poke"},
				},
			},
		},
		{
			name:    "string message format",
			payload: `{"message_id": "7", "time": 5, "sender": {"user_id": "3"}, "message": "plain body"}`,
			want: chatlog.RawMessage{
				ID:       "7",
				Sender:   chatlog.Sender{UserID: "3"},
				Time:     5,
				Segments: []chatlog.Segment{chatlog.TextSegment{Text: "plain body"}},
			},
		},
		{
			name: "inline forward with content nodes",
			payload: `{"message_id": 1, "time": 10, "sender": {"user_id": 2, "nickname": "B"}, "message": [
				{"type": "forward", "data": {"id": "fw2", "content": [
					{"sender": {"user_id": 4, "nickname": "D"}, "time": 20, "content": [{"type": "text", "data": {"text": "nested"}}]}
				]}}
			]}`,
			want: chatlog.RawMessage{
				ID:     "1",
				Sender: chatlog.Sender{UserID: "2", Nickname: "B"},
				Time:   10,
				Segments: []chatlog.Segment{
					chatlog.ForwardSegment{
						ID:     "fw2",
						Inline: true,
						Messages: []chatlog.RawMessage{
							{
								Sender:   chatlog.Sender{UserID: "4", Nickname: "D"},
								Time:     20,
								Segments: []chatlog.Segment{chatlog.TextSegment{Text: "nested"}},
							},
						},
					},
				},
			},
		},
		{
			name:    "segment without type",
			payload: `{"message_id": 1, "message": [{"data": {"text": "x"}}]}`,
			wantErr: "missing segment type",
		},
		{
			name:    "not an object",
			payload: `[1, 2]`,
			wantErr: "expected object",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			got, err := DecodeMessage(gjson.Parse(testCase.payload))
			if testCase.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), testCase.wantErr) {
					t.Fatalf("DecodeMessage() error = %v, want containing %q", err, testCase.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeMessage() failed: %v", err)
			}
			if !reflect.DeepEqual(got, testCase.want) {
				t.Fatalf("DecodeMessage() = %+v, want %+v", got, testCase.want)
			}
		})
	}
}

func TestDecodeMessagesRejectsNonArray(t *testing.T) {
	t.Parallel()

	messages, err := DecodeMessages(gjson.Parse(`null`))
	if err != nil || messages != nil {
		t.Fatalf("DecodeMessages(null) = %v, %v; want nil, nil", messages, err)
	}
	if _, err := DecodeMessages(gjson.Parse(`{"a":1}`)); err == nil {
		t.Fatal("expected error for object payload")
	}
}

func TestDecodeMessageStopsAtForwardNestingBound(t *testing.T) {
	t.Parallel()

	payload := `{"message_id":1,"message":[{"type":"text","data":{"text":"leaf"}}]}`
	for level := 0; level < MaxForwardNesting+8; level++ {
		payload = `{"message_id":1,"message":[{"type":"forward","data":{"id":"f","content":[` + payload + `]}}]}`
	}

	message, err := DecodeMessage(gjson.Parse(payload))
	if err != nil {
		t.Fatalf("DecodeMessage() failed: %v", err)
	}

	decoded := 0
	for {
		forward, ok := message.Segments[0].(chatlog.ForwardSegment)
		if !ok {
			t.Fatalf("level %d segment = %#v, want forward", decoded, message.Segments[0])
		}
		if len(forward.Messages) == 0 {
			if forward.ID != "f" {
				t.Fatalf("truncated forward id = %q, want f", forward.ID)
			}
			break
		}
		decoded++
		message = forward.Messages[0]
	}
	if decoded != MaxForwardNesting {
		t.Fatalf("decoded forward levels = %d, want %d", decoded, MaxForwardNesting)
	}
}
