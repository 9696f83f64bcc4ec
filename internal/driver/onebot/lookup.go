package onebot

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"grouplog/pkg/chatlog"
)

var (
	_ chatlog.RemoteLookup  = (*Client)(nil)
	_ chatlog.ForwardLookup = (*Client)(nil)
)

// GetMemberName returns the group card of one member, falling back to the
// account nickname.
func (c *Client) GetMemberName(ctx context.Context, groupID string, userID string) (string, bool, error) {
	data, found, err := c.lookup(ctx, actionGetGroupMemberInfo, map[string]any{
		"group_id": numericID(groupID),
		"user_id":  numericID(userID),
		"no_cache": false,
	})
	if err != nil || !found {
		return "", false, err
	}

	name := strings.TrimSpace(data.Get("card").String())
	if name == "" {
		name = strings.TrimSpace(data.Get("nickname").String())
	}
	if name == "" {
		return "", false, nil
	}

	return name, true, nil
}

// GetMessage fetches one message by identifier.
func (c *Client) GetMessage(ctx context.Context, messageID string) (chatlog.RawMessage, bool, error) {
	data, found, err := c.lookup(ctx, actionGetMsg, map[string]any{
		"message_id": numericID(messageID),
	})
	if err != nil || !found {
		return chatlog.RawMessage{}, false, err
	}

	message, err := DecodeMessage(data)
	if err != nil {
		return chatlog.RawMessage{}, false, fmt.Errorf("onebot %s %s: %w", actionGetMsg, messageID, err)
	}
	if message.ID == "" {
		message.ID = messageID
	}

	return message, true, nil
}

// GetRecentMessages fetches up to count of the latest group messages,
// oldest first.
func (c *Client) GetRecentMessages(ctx context.Context, groupID string, count int) ([]chatlog.RawMessage, bool, error) {
	if count <= 0 {
		return nil, false, fmt.Errorf("onebot %s: count must be > 0", actionGetGroupMsgHistory)
	}

	data, found, err := c.lookup(ctx, actionGetGroupMsgHistory, map[string]any{
		"group_id": numericID(groupID),
		"count":    count,
	})
	if err != nil || !found {
		return nil, false, err
	}

	messages, err := DecodeMessages(data.Get("messages"))
	if err != nil {
		return nil, false, fmt.Errorf("onebot %s %s: %w", actionGetGroupMsgHistory, groupID, err)
	}
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Time < messages[j].Time
	})
	if len(messages) > count {
		messages = messages[len(messages)-count:]
	}

	return messages, true, nil
}

// GetForwardMessages fetches the sub-messages of one forward bundle.
func (c *Client) GetForwardMessages(ctx context.Context, forwardID string) ([]chatlog.RawMessage, bool, error) {
	data, found, err := c.lookup(ctx, actionGetForwardMsg, map[string]any{
		"id": forwardID,
	})
	if err != nil || !found {
		return nil, false, err
	}

	nodes := data.Get("messages")
	if !nodes.Exists() {
		nodes = data.Get("message")
	}
	messages, err := DecodeMessages(nodes)
	if err != nil {
		return nil, false, fmt.Errorf("onebot %s %s: %w", actionGetForwardMsg, forwardID, err)
	}
	if messages == nil {
		messages = []chatlog.RawMessage{}
	}

	return messages, true, nil
}

// lookup runs one action and folds a platform "not found" answer into
// found=false.
func (c *Client) lookup(ctx context.Context, action string, params map[string]any) (gjson.Result, bool, error) {
	data, err := c.Call(ctx, action, params)
	if err != nil {
		if isNotFound(err) {
			return gjson.Result{}, false, nil
		}
		return gjson.Result{}, false, err
	}
	if !data.Exists() || data.Type == gjson.Null {
		return gjson.Result{}, false, nil
	}

	return data, true, nil
}

// numericID sends decimal identifiers as JSON numbers, as most OneBot
// implementations require, and anything else verbatim.
func numericID(id string) any {
	if _, err := strconv.ParseInt(id, 10, 64); err == nil {
		return json.Number(id)
	}

	return id
}
