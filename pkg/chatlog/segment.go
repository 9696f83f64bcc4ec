package chatlog

// SegmentKind identifies one message segment variant.
type SegmentKind string

const (
	// SegmentKindText is a plain text run.
	SegmentKindText SegmentKind = "text"
	// SegmentKindImage is an image, platform sticker, or marketplace emoji.
	SegmentKindImage SegmentKind = "image"
	// SegmentKindFace is a built-in platform emoji.
	SegmentKindFace SegmentKind = "face"
	// SegmentKindMention is an "at" mention of one user or everyone.
	SegmentKindMention SegmentKind = "at"
	// SegmentKindDice is a dice roll.
	SegmentKindDice SegmentKind = "dice"
	// SegmentKindRPS is a rock-paper-scissors throw.
	SegmentKindRPS SegmentKind = "rps"
	// SegmentKindReply quotes an earlier message.
	SegmentKindReply SegmentKind = "reply"
	// SegmentKindForward is a merged-forward bundle.
	SegmentKindForward SegmentKind = "forward"
	// SegmentKindJSON is a platform JSON card, possibly a pseudo-forward.
	SegmentKindJSON SegmentKind = "json"
)

// MentionAll is the mention target that addresses every group member.
const MentionAll = "all"

// Segment is one typed unit within a message.
//
// The set of variants is closed: every implementation lives in this
// package and formatting code switches over them exhaustively.
type Segment interface {
	// Kind reports the variant wire type.
	Kind() SegmentKind
	isSegment()
}

// TextSegment is a literal text run.
type TextSegment struct {
	Text string
}

// ImageSegment carries image metadata. EmojiID marks marketplace emoji and
// SubType 1 marks platform stickers; everything else is a plain image.
type ImageSegment struct {
	URL      string
	File     string
	FileSize string
	Summary  string
	SubType  int
	EmojiID  string
}

// FaceSegment is a built-in emoji with an optional human description.
type FaceSegment struct {
	ID          string
	Description string
}

// MentionSegment addresses one user, or everyone when UserID is MentionAll.
type MentionSegment struct {
	UserID string
}

// IsAll reports whether the mention targets every member.
func (s MentionSegment) IsAll() bool {
	return s.UserID == MentionAll
}

// DiceSegment carries a dice result.
type DiceSegment struct {
	Result string
}

// RPSSegment carries a rock-paper-scissors result code ("1", "2" or "3").
type RPSSegment struct {
	Result string
}

// ReplySegment references the quoted message by identifier.
type ReplySegment struct {
	MessageID string
}

// ForwardSegment is a merged-forward bundle. Inline reports whether the
// sub-messages were delivered with the segment; when false only ID is
// known and the bundle must be fetched remotely.
type ForwardSegment struct {
	ID       string
	Messages []RawMessage
	Inline   bool
}

// JSONSegment carries a raw platform JSON card payload.
type JSONSegment struct {
	Data string
}

// UnknownSegment preserves the wire type of an unrecognized segment.
type UnknownSegment struct {
	Type string
}

// Kind implements Segment.
func (TextSegment) Kind() SegmentKind { return SegmentKindText }

// Kind implements Segment.
func (ImageSegment) Kind() SegmentKind { return SegmentKindImage }

// Kind implements Segment.
func (FaceSegment) Kind() SegmentKind { return SegmentKindFace }

// Kind implements Segment.
func (MentionSegment) Kind() SegmentKind { return SegmentKindMention }

// Kind implements Segment.
func (DiceSegment) Kind() SegmentKind { return SegmentKindDice }

// Kind implements Segment.
func (RPSSegment) Kind() SegmentKind { return SegmentKindRPS }

// Kind implements Segment.
func (ReplySegment) Kind() SegmentKind { return SegmentKindReply }

// Kind implements Segment.
func (ForwardSegment) Kind() SegmentKind { return SegmentKindForward }

// Kind implements Segment.
func (JSONSegment) Kind() SegmentKind { return SegmentKindJSON }

// Kind implements Segment.
func (s UnknownSegment) Kind() SegmentKind { return SegmentKind(s.Type) }

func (TextSegment) isSegment()    {}
func (ImageSegment) isSegment()   {}
func (FaceSegment) isSegment()    {}
func (MentionSegment) isSegment() {}
func (DiceSegment) isSegment()    {}
func (RPSSegment) isSegment()     {}
func (ReplySegment) isSegment()   {}
func (ForwardSegment) isSegment() {}
func (JSONSegment) isSegment()    {}
func (UnknownSegment) isSegment() {}
