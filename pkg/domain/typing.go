package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TypingContext is where a typing signal applies.
// It is either ChannelTyping or DirectTyping.
type TypingContext interface {
	Kind() ContextKind
	isTypingContext()
}

// ChannelTyping is a typing signal inside a channel
type ChannelTyping struct {
	ChannelID int64
}

func (ChannelTyping) Kind() ContextKind { return ContextChannel }
func (ChannelTyping) isTypingContext()  {}

// DirectTyping is a typing signal inside a DM with Recipient
type DirectTyping struct {
	Recipient string
}

func (DirectTyping) Kind() ContextKind { return ContextDirect }
func (DirectTyping) isTypingContext()  {}

type typingWire struct {
	Kind      ContextKind `json:"kind"`
	ChannelID int64       `json:"channelId,omitempty"`
	Recipient string      `json:"recipient,omitempty"`
}

// DecodeTypingContext parses the wire form {"kind":"channel","channelId":N}
// or {"kind":"dm","recipient":"name"}.
func DecodeTypingContext(data []byte) (TypingContext, error) {
	var w typingWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}

	switch w.Kind {
	case ContextChannel:
		if w.ChannelID <= 0 {
			return nil, fmt.Errorf("typing context: channelId required")
		}
		return ChannelTyping{ChannelID: w.ChannelID}, nil
	case ContextDirect:
		if strings.TrimSpace(w.Recipient) == "" {
			return nil, fmt.Errorf("typing context: recipient required")
		}
		return DirectTyping{Recipient: w.Recipient}, nil
	default:
		return nil, fmt.Errorf("typing context: unknown kind %q", w.Kind)
	}
}
