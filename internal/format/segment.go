package format

import (
	"strings"

	"github.com/tidwall/gjson"

	"grouplog/pkg/chatlog"
)

const (
	emojiFallback      = "[emoji]"
	invalidJSONMarker  = "[invalid json message]"
	unknownJSONSummary = "unknown content"
	unknownRPSResult   = "unknown"
)

var rpsResults = map[string]string{
	"1": "paper",
	"2": "scissors",
	"3": "rock",
}

// FormatPlain renders segments that need no reference resolution. It
// reports handled=false for non-broadcast mentions, replies and forwards,
// which callers route to the Resolver or the Flattener.
func FormatPlain(segment chatlog.Segment) (text string, handled bool) {
	switch typed := segment.(type) {
	case chatlog.TextSegment:
		return typed.Text, true
	case chatlog.FaceSegment:
		return FormatFace(typed), true
	case chatlog.ImageSegment:
		_, text := ClassifyImage(typed)
		return text, true
	case chatlog.DiceSegment:
		return "[dice:" + typed.Result + "]", true
	case chatlog.RPSSegment:
		return FormatRPS(typed.Result), true
	case chatlog.MentionSegment:
		if typed.IsAll() {
			return chatlog.MentionAllMarker, true
		}
		return "", false
	case chatlog.JSONSegment:
		return SummarizeJSON(typed.Data), true
	case chatlog.UnknownSegment:
		return "[unknown message type:" + typed.Type + "]", true
	case chatlog.ReplySegment, chatlog.ForwardSegment:
		return "", false
	case nil:
		return "", true
	default:
		return "[unknown message type:" + string(segment.Kind()) + "]", true
	}
}

// FormatFace renders a built-in emoji, preferring its description.
func FormatFace(face chatlog.FaceSegment) string {
	label := strings.TrimSpace(face.Description)
	if label == "" {
		label = strings.TrimSpace(face.ID)
	}
	if label == "" {
		return emojiFallback
	}

	return "[emoji:" + label + "]"
}

// FormatRPS renders a rock-paper-scissors result code.
func FormatRPS(code string) string {
	result, ok := rpsResults[strings.TrimSpace(code)]
	if !ok {
		result = unknownRPSResult
	}

	return "[rock-paper-scissors:" + result + "]"
}

// ClassifyImage derives the resource record and display text of one
// image segment. Marketplace emoji are marked by an emoji id, platform
// stickers by sub type 1; everything else is a plain image.
func ClassifyImage(image chatlog.ImageSegment) (chatlog.Resource, string) {
	resource := chatlog.Resource{
		Type: chatlog.ResourceTypeImage,
		URL:  image.URL,
	}
	summary := strings.TrimSpace(image.Summary)

	switch {
	case image.EmojiID != "":
		resource.Type = chatlog.ResourceTypeMarketplaceEmoji
		resource.Summary = summary
		if summary == "" {
			return resource, emojiFallback
		}
		return resource, "[emoji:" + summary + "]"
	case image.SubType == 1:
		resource.Type = chatlog.ResourceTypeSticker
		resource.Summary = summary
		if summary == "" {
			return resource, chatlog.StickerMarker
		}
		return resource, summary
	default:
		resource.File = image.File
		resource.FileSize = image.FileSize
		return resource, chatlog.ImageMarker
	}
}

// SummarizeJSON renders a JSON card that is not a pseudo-forward.
func SummarizeJSON(data string) string {
	if !gjson.Valid(data) {
		return invalidJSONMarker
	}
	parsed := gjson.Parse(data)
	if !parsed.IsObject() {
		return invalidJSONMarker
	}

	summary := strings.TrimSpace(parsed.Get("desc").String())
	if summary == "" {
		summary = strings.TrimSpace(parsed.Get("prompt").String())
	}
	if summary == "" {
		summary = unknownJSONSummary
	}

	return "[json message: " + summary + "]"
}

func formatMention(name string, userID string) string {
	return "[@" + name + "(id:" + userID + ")]"
}

func unresolvedMention(userID string) string {
	return "[@unresolved(id:" + userID + ")]"
}
