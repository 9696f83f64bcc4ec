package onebot

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"grouplog/pkg/chatlog"
)

// MaxForwardNesting bounds how many inline forwards nested inside forwards
// are decoded. Deeper bundles keep their id and lose their content.
const MaxForwardNesting = 32

// DecodeMessage converts one OneBot message object, as delivered by events,
// get_msg, history and forward node payloads, into a raw message.
// Numeric and string identifiers are both accepted.
func DecodeMessage(value gjson.Result) (chatlog.RawMessage, error) {
	return decodeMessage(value, 0)
}

func decodeMessage(value gjson.Result, depth int) (chatlog.RawMessage, error) {
	if !value.IsObject() {
		return chatlog.RawMessage{}, fmt.Errorf("decode message: expected object, got %s", value.Type)
	}

	segments, err := decodeSegments(messageBody(value), depth)
	if err != nil {
		return chatlog.RawMessage{}, fmt.Errorf("decode message %s: %w", value.Get("message_id").String(), err)
	}

	sender := value.Get("sender")
	return chatlog.RawMessage{
		ID: firstString(value, "message_id", "id"),
		Sender: chatlog.Sender{
			UserID:   firstString(sender, "user_id", "uin"),
			Nickname: strings.TrimSpace(firstString(sender, "nickname", "name")),
			Card:     strings.TrimSpace(sender.Get("card").String()),
		},
		Time:     value.Get("time").Int(),
		Segments: segments,
	}, nil
}

// DecodeMessages converts an array of message objects, skipping nothing:
// one undecodable entry fails the whole array.
func DecodeMessages(values gjson.Result) ([]chatlog.RawMessage, error) {
	return decodeMessages(values, 0)
}

func decodeMessages(values gjson.Result, depth int) ([]chatlog.RawMessage, error) {
	if !values.Exists() || values.Type == gjson.Null {
		return nil, nil
	}
	if !values.IsArray() {
		return nil, fmt.Errorf("decode messages: expected array, got %s", values.Type)
	}

	items := values.Array()
	messages := make([]chatlog.RawMessage, 0, len(items))
	for index, item := range items {
		message, err := decodeMessage(item, depth)
		if err != nil {
			return nil, fmt.Errorf("decode messages[%d]: %w", index, err)
		}
		messages = append(messages, message)
	}

	return messages, nil
}

// messageBody returns the segment array of a message; forward nodes carry
// it under "content" instead of "message".
func messageBody(value gjson.Result) gjson.Result {
	if body := value.Get("message"); body.Exists() {
		return body
	}

	return value.Get("content")
}

func decodeSegments(body gjson.Result, depth int) ([]chatlog.Segment, error) {
	switch {
	case !body.Exists() || body.Type == gjson.Null:
		return nil, nil
	case body.Type == gjson.String:
		// string message format: the body is pre-rendered text
		return []chatlog.Segment{chatlog.TextSegment{Text: body.String()}}, nil
	case !body.IsArray():
		return nil, fmt.Errorf("message body: expected array, got %s", body.Type)
	}

	items := body.Array()
	segments := make([]chatlog.Segment, 0, len(items))
	for index, item := range items {
		segment, err := decodeSegment(item, depth)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", index, err)
		}
		segments = append(segments, segment)
	}

	return segments, nil
}

// decodeSegment decodes one segment of a message enclosed by depth forwards.
func decodeSegment(item gjson.Result, depth int) (chatlog.Segment, error) {
	segmentType := item.Get("type").String()
	data := item.Get("data")

	switch chatlog.SegmentKind(segmentType) {
	case chatlog.SegmentKindText:
		return chatlog.TextSegment{Text: data.Get("text").String()}, nil
	case chatlog.SegmentKindImage:
		return chatlog.ImageSegment{
			URL:      data.Get("url").String(),
			File:     data.Get("file").String(),
			FileSize: data.Get("file_size").String(),
			Summary:  data.Get("summary").String(),
			SubType:  int(data.Get("sub_type").Int()),
			EmojiID:  data.Get("emoji_id").String(),
		}, nil
	case chatlog.SegmentKindFace:
		return chatlog.FaceSegment{
			ID:          data.Get("id").String(),
			Description: firstString(data, "raw.faceText", "faceText"),
		}, nil
	case chatlog.SegmentKindMention:
		return chatlog.MentionSegment{UserID: data.Get("qq").String()}, nil
	case chatlog.SegmentKindDice:
		return chatlog.DiceSegment{Result: data.Get("result").String()}, nil
	case chatlog.SegmentKindRPS:
		return chatlog.RPSSegment{Result: data.Get("result").String()}, nil
	case chatlog.SegmentKindReply:
		return chatlog.ReplySegment{MessageID: data.Get("id").String()}, nil
	case chatlog.SegmentKindForward:
		content := data.Get("content")
		if depth+1 > MaxForwardNesting {
			return chatlog.ForwardSegment{ID: data.Get("id").String(), Inline: true}, nil
		}
		messages, err := decodeMessages(content, depth+1)
		if err != nil {
			return nil, fmt.Errorf("forward %s: %w", data.Get("id").String(), err)
		}
		return chatlog.ForwardSegment{
			ID:       data.Get("id").String(),
			Messages: messages,
			Inline:   content.IsArray(),
		}, nil
	case chatlog.SegmentKindJSON:
		return chatlog.JSONSegment{Data: data.Get("data").String()}, nil
	case "":
		return nil, fmt.Errorf("missing segment type")
	default:
		return chatlog.UnknownSegment{Type: segmentType}, nil
	}
}

func firstString(value gjson.Result, paths ...string) string {
	for _, path := range paths {
		if field := value.Get(path); field.Exists() && field.String() != "" {
			return field.String()
		}
	}

	return ""
}
