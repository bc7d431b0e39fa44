package usecase

import (
	"encoding/json"
	"strings"

	"whatsapp-relay/internal/domain"
)

// webhookEvent mirrors the parts of a Cloud API notification the relay reads.
type webhookEvent struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Value *struct {
				Contacts []struct {
					WaID    string `json:"wa_id"`
					Profile *struct {
						Name *string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []json.RawMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type webhookMessage struct {
	From string `json:"from"`
	Type string `json:"type"`
	Text *struct {
		Body string `json:"body"`
	} `json:"text"`
	Audio *struct {
		ID string `json:"id"`
	} `json:"audio"`
}

// parsedEvent is the state after validation: the message exists but its
// fields have not been read yet.
type parsedEvent struct {
	waID    string
	name    string
	hasName bool
	message json.RawMessage
}

// parseEvent validates the notification shape and extracts the sender of the
// first message. A nil error means a message is present and waID is known.
func parseEvent(raw []byte) (parsedEvent, error) {
	var evt webhookEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return parsedEvent{}, newError(ErrorInvalidPayload, "malformed_json", err)
	}
	if evt.Object == "" {
		return parsedEvent{}, newError(ErrorInvalidPayload, "missing_object", nil)
	}
	if len(evt.Entry) == 0 {
		return parsedEvent{}, newError(ErrorInvalidPayload, "missing_entry", nil)
	}
	if len(evt.Entry[0].Changes) == 0 {
		return parsedEvent{}, newError(ErrorInvalidPayload, "missing_changes", nil)
	}
	value := evt.Entry[0].Changes[0].Value
	if value == nil {
		return parsedEvent{}, newError(ErrorInvalidPayload, "missing_value", nil)
	}
	if len(value.Messages) == 0 || isEmptyJSON(value.Messages[0]) {
		return parsedEvent{}, newError(ErrorInvalidPayload, "missing_messages", nil)
	}
	if len(value.Contacts) == 0 || strings.TrimSpace(value.Contacts[0].WaID) == "" {
		return parsedEvent{}, newError(ErrorInvalidPayload, "missing_contact", nil)
	}
	evtOut := parsedEvent{
		waID:    strings.TrimSpace(value.Contacts[0].WaID),
		message: value.Messages[0],
	}
	if p := value.Contacts[0].Profile; p != nil && p.Name != nil {
		evtOut.name = *p.Name
		evtOut.hasName = true
	}
	return evtOut, nil
}

// inboundMessage classifies the message. Errors here happen after the sender
// is known.
func (p parsedEvent) inboundMessage() (domain.InboundMessage, error) {
	if !p.hasName {
		return domain.InboundMessage{}, newError(ErrorInvalidPayload, "missing_profile_name", nil)
	}
	var m webhookMessage
	if err := json.Unmarshal(p.message, &m); err != nil {
		return domain.InboundMessage{}, newError(ErrorInvalidPayload, "malformed_message", err)
	}
	in := domain.InboundMessage{WaID: p.waID, Name: p.name, Type: m.Type}
	switch m.Type {
	case "text":
		if m.Text == nil {
			return domain.InboundMessage{}, newError(ErrorInvalidPayload, "missing_text_body", nil)
		}
		in.Kind = domain.MessageText
		in.Body = m.Text.Body
	case "audio":
		if m.Audio == nil || m.Audio.ID == "" {
			return domain.InboundMessage{}, newError(ErrorInvalidPayload, "missing_audio_id", nil)
		}
		in.Kind = domain.MessageAudio
		in.MediaID = m.Audio.ID
	default:
		in.Kind = domain.MessageUnsupported
	}
	return in, nil
}

func isEmptyJSON(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null" || s == "{}"
}
