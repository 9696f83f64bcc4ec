package format

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"

	"grouplog/internal/cache"
	"grouplog/internal/metrics"
	"grouplog/pkg/chatlog"
)

// Remote call names recorded in logs and metrics.
const (
	actionMemberName      = "member_name"
	actionMessage         = "message"
	actionForwardMessages = "forward_messages"
	actionRecentMessages  = "recent_messages"
)

// Resolver resolves mention and reply references through the fallback
// chain: shared caches, the current batch, then the remote lookup.
type Resolver struct {
	caches  *cache.Set
	remote  chatlog.RemoteLookup
	logger  *slog.Logger
	metrics *metrics.Collectors

	lookupTimeout  time.Duration
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	maxReplyDepth  int

	calls singleflight.Group
}

// NewResolver creates a resolver over caches.
func NewResolver(caches *cache.Set, options ...Option) (*Resolver, error) {
	if caches == nil {
		return nil, errors.New("new resolver: nil cache set")
	}

	return newResolver(caches, newSettings(options)), nil
}

func newResolver(caches *cache.Set, cfg settings) *Resolver {
	return &Resolver{
		caches:         caches,
		remote:         cfg.remote,
		logger:         cfg.logger,
		metrics:        cfg.metrics,
		lookupTimeout:  cfg.lookupTimeout,
		maxRetries:     cfg.maxRetries,
		initialBackoff: cfg.initialBackoff,
		maxBackoff:     cfg.maxBackoff,
		maxReplyDepth:  cfg.maxReplyDepth,
	}
}

// RememberSender writes the sender display name through to the identity
// cache. Anonymous senders are ignored.
func (r *Resolver) RememberSender(sender chatlog.Sender) {
	userID := strings.TrimSpace(sender.UserID)
	if userID == "" || !hasName(sender) {
		return
	}
	r.caches.Names.Put(userID, sender.DisplayName())
}

// ResolveMention renders a mention of userID as "[@name(id:X)]", or an
// unresolved placeholder when no tier knows the user. It never fails.
func (r *Resolver) ResolveMention(ctx context.Context, groupID string, userID string, batch *Batch) string {
	if userID == chatlog.MentionAll {
		return chatlog.MentionAllMarker
	}

	if name, ok := r.caches.Names.Get(userID); ok {
		r.metrics.ObserveResolution(metrics.KindMention, metrics.TierCache)
		return formatMention(name, userID)
	}

	if sender, ok := batch.Sender(userID); ok {
		name := sender.DisplayName()
		r.caches.Names.Put(userID, name)
		r.metrics.ObserveResolution(metrics.KindMention, metrics.TierBatch)
		return formatMention(name, userID)
	}

	if r.remote != nil && strings.TrimSpace(groupID) != "" {
		name, found, err := r.lookupMemberName(ctx, groupID, userID)
		switch {
		case err != nil:
			r.logger.WarnContext(ctx, "mention remote lookup failed",
				"group_id", groupID,
				"user_id", userID,
				"error", err,
			)
		case found && strings.TrimSpace(name) != "":
			r.caches.Names.Put(userID, name)
			r.metrics.ObserveResolution(metrics.KindMention, metrics.TierRemote)
			return formatMention(name, userID)
		}
	}

	r.metrics.ObserveResolution(metrics.KindMention, metrics.TierUnresolved)
	r.logger.DebugContext(ctx, "mention unresolved", "group_id", groupID, "user_id", userID)

	return unresolvedMention(userID)
}

// resolveMentionLocal renders a mention from the identity cache and the
// batch only. Quoted and forwarded content uses it to avoid remote fan-out.
func (r *Resolver) resolveMentionLocal(userID string, batch *Batch) string {
	if userID == chatlog.MentionAll {
		return chatlog.MentionAllMarker
	}
	if name, ok := r.caches.Names.Get(userID); ok {
		return formatMention(name, userID)
	}
	if sender, ok := batch.Sender(userID); ok {
		return formatMention(sender.DisplayName(), userID)
	}

	return unresolvedMention(userID)
}

// ResolveReply renders the quoted message targetID together with its own
// chain of quoted ancestors as "[quote: <chain>]". Unresolvable targets,
// cycles and overly deep chains degrade to placeholders.
func (r *Resolver) ResolveReply(ctx context.Context, groupID string, targetID string, batch *Batch) string {
	visited := make(map[string]struct{})
	chain, resolved := r.quoteChain(ctx, groupID, targetID, batch, visited, 1)
	if !resolved {
		return chain
	}

	return "[quote: " + chain + "]"
}

func (r *Resolver) quoteChain(
	ctx context.Context,
	groupID string,
	targetID string,
	batch *Batch,
	visited map[string]struct{},
	depth int,
) (string, bool) {
	if depth > r.maxReplyDepth {
		r.metrics.ObserveResolution(metrics.KindReply, metrics.TierTooDeep)
		r.logger.WarnContext(ctx, "reply chain too deep",
			"group_id", groupID,
			"message_id", targetID,
			"error", chatlog.ErrRecursionOverflow,
		)
		return quoteTooDeep(targetID), false
	}
	if _, seen := visited[targetID]; seen {
		r.metrics.ObserveResolution(metrics.KindReply, metrics.TierCycle)
		r.logger.DebugContext(ctx, "reply cycle detected", "group_id", groupID, "message_id", targetID)
		return quoteNotFound(targetID), false
	}
	visited[targetID] = struct{}{}

	quoted, found := r.lookupQuoted(ctx, groupID, targetID, batch)
	if !found {
		return quoteNotFound(targetID), false
	}

	ancestor := ""
	var content strings.Builder
	for _, segment := range quoted.Segments {
		switch typed := segment.(type) {
		case chatlog.ReplySegment:
			if ancestor != "" {
				continue
			}
			ancestor, _ = r.quoteChain(ctx, groupID, typed.MessageID, batch, visited, depth+1)
		case chatlog.MentionSegment:
			content.WriteString(r.resolveMentionLocal(typed.UserID, batch))
		case chatlog.ForwardSegment:
			content.WriteString(chatlog.ForwardMarker)
		case chatlog.JSONSegment:
			if IsPseudoForward(typed.Data) {
				content.WriteString(chatlog.ForwardMarker)
				continue
			}
			content.WriteString(SummarizeJSON(typed.Data))
		default:
			text, _ := FormatPlain(segment)
			content.WriteString(text)
		}
	}

	body := content.String()
	if body == "" {
		body = chatlog.NonTextMarker
	}
	current := quoted.Sender.Label() + "'s message: " + body
	if ancestor == "" {
		return current, true
	}

	return ancestor + " -> " + current, true
}

// lookupQuoted walks the message fallback chain for one quoted target.
func (r *Resolver) lookupQuoted(ctx context.Context, groupID string, messageID string, batch *Batch) (chatlog.RawMessage, bool) {
	if message, ok := r.caches.Messages.Get(messageID); ok {
		r.metrics.ObserveResolution(metrics.KindReply, metrics.TierCache)
		return message, true
	}

	if message, ok := batch.Message(messageID); ok {
		r.caches.Messages.Put(messageID, message.Clone())
		r.metrics.ObserveResolution(metrics.KindReply, metrics.TierBatch)
		return message, true
	}

	if r.remote == nil {
		r.metrics.ObserveResolution(metrics.KindReply, metrics.TierUnresolved)
		return chatlog.RawMessage{}, false
	}
	if r.caches.Misses.Missing(messageID) {
		r.metrics.ObserveResolution(metrics.KindReply, metrics.TierNegative)
		r.logger.DebugContext(ctx, "quoted message skipped by negative cache",
			"group_id", groupID,
			"message_id", messageID,
		)
		return chatlog.RawMessage{}, false
	}

	message, found, err := r.lookupMessage(ctx, messageID)
	if err != nil && ctx.Err() != nil {
		r.metrics.ObserveResolution(metrics.KindReply, metrics.TierUnresolved)
		r.logger.DebugContext(ctx, "quoted message lookup abandoned",
			"group_id", groupID,
			"message_id", messageID,
			"error", err,
		)
		return chatlog.RawMessage{}, false
	}
	if err != nil {
		r.logger.WarnContext(ctx, "quoted message remote lookup failed",
			"group_id", groupID,
			"message_id", messageID,
			"error", err,
		)
	}
	if err != nil || !found {
		r.caches.Misses.Remember(messageID)
		r.metrics.ObserveResolution(metrics.KindReply, metrics.TierUnresolved)
		return chatlog.RawMessage{}, false
	}

	r.caches.Messages.Put(messageID, message.Clone())
	r.caches.Misses.Forget(messageID)
	r.metrics.ObserveResolution(metrics.KindReply, metrics.TierRemote)

	return message, true
}

// RecentMessages fetches the latest group messages from the remote, oldest
// first. It reports found=false when no remote is configured.
func (r *Resolver) RecentMessages(ctx context.Context, groupID string, count int) ([]chatlog.RawMessage, bool, error) {
	if r.remote == nil {
		return nil, false, nil
	}

	value, found, err := r.callRemote(ctx, actionRecentMessages, groupID, func(callCtx context.Context) (any, bool, error) {
		return r.remote.GetRecentMessages(callCtx, groupID, count)
	})
	if err != nil || !found {
		return nil, found, err
	}
	messages, _ := value.([]chatlog.RawMessage)

	return messages, true, nil
}

func (r *Resolver) lookupMemberName(ctx context.Context, groupID string, userID string) (string, bool, error) {
	value, found, err := r.callRemote(ctx, actionMemberName, groupID+"/"+userID, func(callCtx context.Context) (any, bool, error) {
		return r.remote.GetMemberName(callCtx, groupID, userID)
	})
	if err != nil || !found {
		return "", found, err
	}
	name, _ := value.(string)

	return name, true, nil
}

func (r *Resolver) lookupMessage(ctx context.Context, messageID string) (chatlog.RawMessage, bool, error) {
	value, found, err := r.callRemote(ctx, actionMessage, messageID, func(callCtx context.Context) (any, bool, error) {
		return r.remote.GetMessage(callCtx, messageID)
	})
	if err != nil || !found {
		return chatlog.RawMessage{}, found, err
	}
	message, _ := value.(chatlog.RawMessage)

	return message, true, nil
}

// lookupForward fetches forward sub-messages by bundle identifier when the
// remote supports it.
func (r *Resolver) lookupForward(ctx context.Context, forwardID string) ([]chatlog.RawMessage, bool, error) {
	forwards, ok := r.remote.(chatlog.ForwardLookup)
	if !ok {
		return nil, false, nil
	}

	value, found, err := r.callRemote(ctx, actionForwardMessages, forwardID, func(callCtx context.Context) (any, bool, error) {
		return forwards.GetForwardMessages(callCtx, forwardID)
	})
	if err != nil || !found {
		return nil, found, err
	}
	messages, _ := value.([]chatlog.RawMessage)

	return messages, true, nil
}

type remoteResult struct {
	value any
	found bool
}

// remotePanic carries a panic out of the shared call so it is raised again
// in the waiting caller.
type remotePanic struct {
	value any
}

func (p *remotePanic) Error() string {
	return fmt.Sprintf("remote call panicked: %v", p.value)
}

// callRemote runs one remote call with a per-attempt timeout and bounded
// exponential retries of transient failures. Concurrent calls for the same
// action and key share one execution, which runs detached from any single
// caller; each caller stops waiting when its own ctx ends.
func (r *Resolver) callRemote(
	ctx context.Context,
	action string,
	key string,
	call func(context.Context) (any, bool, error),
) (any, bool, error) {
	detached := context.WithoutCancel(ctx)
	results := r.calls.DoChan(action+":"+key, func() (shared any, err error) {
		defer func() {
			if recovered := recover(); recovered != nil {
				err = &remotePanic{value: recovered}
			}
		}()

		return r.runRemote(detached, action, key, call)
	})

	select {
	case outcome := <-results:
		var panicked *remotePanic
		if errors.As(outcome.Err, &panicked) {
			panic(panicked.value)
		}
		if outcome.Err != nil {
			return nil, false, outcome.Err
		}
		result, _ := outcome.Val.(remoteResult)
		return result.value, result.found, nil
	case <-ctx.Done():
		return nil, false, fmt.Errorf("remote %s %s: %w", action, key, ctx.Err())
	}
}

func (r *Resolver) runRemote(
	ctx context.Context,
	action string,
	key string,
	call func(context.Context) (any, bool, error),
) (any, error) {
	started := time.Now()
	var result remoteResult

	attempt := func() error {
		callCtx, cancel := context.WithTimeout(ctx, r.lookupTimeout)
		defer cancel()

		value, found, err := call(callCtx)
		switch {
		case err == nil:
			result = remoteResult{value: value, found: found}
			return nil
		case errors.Is(err, chatlog.ErrNotFound):
			result = remoteResult{}
			return nil
		case chatlog.IsTransient(err):
			return err
		case errors.Is(err, context.DeadlineExceeded):
			return fmt.Errorf("%s attempt timed out: %w", action, errors.Join(chatlog.ErrTransient, err))
		default:
			return backoff.Permanent(err)
		}
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.initialBackoff
	policy.MaxInterval = r.maxBackoff
	policy.MaxElapsedTime = 0

	err := backoff.Retry(attempt, backoff.WithMaxRetries(policy, uint64(r.maxRetries)))
	elapsed := time.Since(started)
	switch {
	case err != nil:
		r.metrics.ObserveRemoteCall(action, metrics.OutcomeError, elapsed)
		return nil, fmt.Errorf("remote %s %s: %w", action, key, err)
	case !result.found:
		r.metrics.ObserveRemoteCall(action, metrics.OutcomeNotFound, elapsed)
	default:
		r.metrics.ObserveRemoteCall(action, metrics.OutcomeOK, elapsed)
	}

	return result, nil
}

func quoteNotFound(messageID string) string {
	return "[quoted message: not found (id:" + messageID + ")]"
}

func quoteTooDeep(messageID string) string {
	return "[quoted message: chain too deep (id:" + messageID + ")]"
}
