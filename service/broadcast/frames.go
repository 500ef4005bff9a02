package broadcast

import (
	"encoding/json"
	"strings"

	"PBoard/tools/decode"
	"PBoard/tools/errs"
)

const (
	MsgIdentify     = "identify"
	MsgJoinProject  = "joinProject"
	MsgLeaveProject = "leaveProject"

	KindError = "error"
)

// ClientMessage is an inbound control frame.
type ClientMessage struct {
	Type      string
	Token     string
	ProjectID int64
	HasID     bool
}

// ParseClientMessage accepts {"type":..., "token":...} and
// {"type":..., "projectId": 7}; the project id may also be a numeric string.
func ParseClientMessage(raw []byte) (*ClientMessage, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errs.ErrArgs.WrapMsg("frame is not a JSON object")
	}
	typ, _ := m["type"].(string)
	if typ == "" {
		return nil, errs.ErrArgs.WrapMsg("missing type")
	}

	msg := &ClientMessage{Type: typ}
	if tok, ok := m["token"].(string); ok {
		msg.Token = strings.TrimSpace(tok)
	}
	for _, key := range []string{"projectId", "project_id"} {
		if _, present := m[key]; !present {
			continue
		}
		id, err := decode.ReadInt64(m, key)
		if err != nil {
			return nil, errs.ErrArgs.WrapMsg("projectId is not an integer")
		}
		msg.ProjectID, msg.HasID = id, true
		break
	}
	return msg, nil
}

func encodeFrame(kind string, payload any) []byte {
	data, err := json.Marshal(Event{Kind: kind, Payload: payload})
	if err != nil {
		return []byte(`{"kind":"error","payload":{"code":500,"msg":"ServerInternalError"}}`)
	}
	return data
}

// BuildAck answers a successful client message with "<type>:ok".
func BuildAck(msgType string, payload map[string]any) []byte {
	return encodeFrame(msgType+":ok", payload)
}

// BuildRejection reports err back to the connection that caused it.
func BuildRejection(msgType string, err error) []byte {
	payload := map[string]any{"type": msgType}
	if ce, ok := errs.As(err); ok {
		payload["code"] = ce.Code
		payload["msg"] = ce.Msg
		if ce.Detail != "" {
			payload["detail"] = ce.Detail
		}
	} else {
		payload["code"] = errs.ServerInternalError
		payload["msg"] = errs.ErrInternalServer.Msg
	}
	return encodeFrame(KindError, payload)
}
