// Package transcript renders persisted group logs as flat text transcripts
// suitable for human reading or language model input.
package transcript

import (
	"strconv"
	"strings"

	"grouplog/pkg/chatlog"
)

// Separator joins consecutive transcript entries.
const Separator = "\n---\n"

const (
	forwardOpen  = "[forward message, contents:\n{\n"
	forwardClose = "\n}]"
)

// Option mutates one render configuration.
type Option func(*settings)

type settings struct {
	imageLimit int
}

// WithImageLimit numbers at most limit images, earliest first. Zero
// disables numbering and leaves image markers in place.
func WithImageLimit(limit int) Option {
	return func(cfg *settings) {
		if limit >= 0 {
			cfg.imageLimit = limit
		}
	}
}

// Result is one rendered transcript.
type Result struct {
	// Text is the transcript body.
	Text string
	// Images lists the numbered images; Images[i] is labelled "[image i+1]".
	Images []chatlog.Resource
}

type imageRef struct {
	message  int
	resource int
}

// Render renders log oldest first. Top-level plain messages carrying
// images get their image markers replaced with global "[image N]" labels,
// and a guide line describing the numbering opens the transcript.
func Render(log chatlog.GroupLog, opts ...Option) Result {
	cfg := settings{}
	for _, opt := range opts {
		opt(&cfg)
	}

	labels, images := numberImages(log.Messages, cfg.imageLimit)

	entries := make([]string, 0, len(log.Messages)+1)
	if len(images) > 0 {
		entries = append(entries, ImageGuide(len(images)))
	}
	for index, message := range log.Messages {
		if message.IsForward() {
			entries = append(entries, renderForward(message))
			continue
		}
		entries = append(entries, renderPlain(message, labels[index]))
	}

	return Result{
		Text:   strings.Join(entries, Separator),
		Images: images,
	}
}

// ImageGuide is the leading line announcing count numbered images.
func ImageGuide(count int) string {
	return "[note: " + strconv.Itoa(count) + " images are attached, labelled [image 1] to [image " +
		strconv.Itoa(count) + "] in send order]"
}

// ImageLabel renders the global label of the index-th image, counting from 1.
func ImageLabel(index int) string {
	return "[image " + strconv.Itoa(index) + "]"
}

// numberImages assigns global numbers to plain images of top-level
// messages in log order, stopping at limit.
func numberImages(messages []chatlog.FormattedMessage, limit int) (map[int][]string, []chatlog.Resource) {
	labels := make(map[int][]string)
	if limit <= 0 {
		return labels, nil
	}

	refs := make([]imageRef, 0, limit)
	images := make([]chatlog.Resource, 0, limit)
collect:
	for messageIndex, message := range messages {
		if message.IsForward() {
			continue
		}
		for resourceIndex, resource := range message.Resources {
			if resource.Type != chatlog.ResourceTypeImage {
				continue
			}
			if len(refs) == limit {
				break collect
			}
			refs = append(refs, imageRef{message: messageIndex, resource: resourceIndex})
			images = append(images, resource)
		}
	}

	for number, ref := range refs {
		labels[ref.message] = append(labels[ref.message], ImageLabel(number+1))
	}

	return labels, images
}

func header(message chatlog.FormattedMessage) string {
	sender := message.Sender
	if sender == "" {
		sender = chatlog.UnknownSenderName
	}

	return "[" + sender + "/" + message.Time + "]:"
}

func renderPlain(message chatlog.FormattedMessage, labels []string) string {
	if len(labels) == 0 {
		return header(message) + message.Content
	}

	content := strings.TrimSpace(strings.ReplaceAll(message.Content, chatlog.ImageMarker, ""))

	return header(message) + strings.Join(labels, "") + content
}

// renderForward renders a forward record as a nested block, or the
// empty-forward marker when it has no sub-messages.
func renderForward(message chatlog.FormattedMessage) string {
	if len(message.ForwardMessages) == 0 {
		return header(message) + chatlog.EmptyForwardMarker
	}

	children := make([]string, 0, len(message.ForwardMessages))
	for _, child := range message.ForwardMessages {
		if child.IsForward() {
			children = append(children, renderForward(child))
			continue
		}
		children = append(children, header(child)+child.Content)
	}

	return header(message) + forwardOpen + strings.Join(children, Separator) + forwardClose
}
