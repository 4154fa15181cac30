package hub

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
)

var errInvalidParent = errors.New("invalid parent reference")

type frameKind int

const (
	frameUnknown frameKind = iota
	frameTyping
	frameChat
)

// clientFrame is the normalized form of an inbound frame. The legacy
// protocol does not tag chat frames with a "type": a frame is chat iff
// it carries a "content" field.
type clientFrame struct {
	kind     frameKind
	isTyping bool
	content  string
	parent   *int
}

func decodeClientFrame(raw []byte) (clientFrame, error) {
	var env struct {
		Type     string          `json:"type"`
		IsTyping bool            `json:"is_typing"`
		Content  *string         `json:"content"`
		Parent   json.RawMessage `json:"parent"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return clientFrame{}, err
	}

	switch {
	case env.Type == "typing":
		return clientFrame{kind: frameTyping, isTyping: env.IsTyping}, nil
	case env.Content != nil:
		parent, err := normalizeParent(env.Parent)
		if err != nil {
			return clientFrame{}, err
		}
		return clientFrame{kind: frameChat, content: *env.Content, parent: parent}, nil
	default:
		return clientFrame{kind: frameUnknown}, nil
	}
}

// normalizeParent collapses the legacy no-parent spellings (absent,
// null, "", "undefined") to nil. Untyped clients also send the id as a
// string, so numeric strings are accepted; everything else is a
// validation error.
func normalizeParent(raw json.RawMessage) (*int, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" || s == "undefined" {
			return nil, nil
		}

		id, err := strconv.Atoi(s)
		if err != nil {
			return nil, errInvalidParent
		}
		return &id, nil
	}

	var id int
	if err := json.Unmarshal(raw, &id); err != nil {
		return nil, errInvalidParent
	}
	return &id, nil
}

// onlineUsersFrame is sent privately to a session right after
// admission; it is never published to the group.
type onlineUsersFrame struct {
	Type  string       `json:"type"`
	Users []onlineUser `json:"users"`
}

type onlineUser struct {
	Username string `json:"username"`
}

func newOnlineUsers(usernames []string) onlineUsersFrame {
	users := make([]onlineUser, len(usernames))
	for i, username := range usernames {
		users[i] = onlineUser{Username: username}
	}

	return onlineUsersFrame{
		Type:  "online_users",
		Users: users,
	}
}

// errorFrame reports a per-frame failure to the offending sender only.
type errorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func newErrorFrame(text string) errorFrame {
	return errorFrame{
		Type:  "error",
		Error: text,
	}
}
