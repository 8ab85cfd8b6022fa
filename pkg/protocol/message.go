// Package protocol implements the Jupyter messaging wire format: multipart
// framing with HMAC-SHA256 signing, the header/parent-header envelope, typed
// message contents and the kernel connection file.
//
// See: https://jupyter-client.readthedocs.io/en/latest/messaging.html
package protocol

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Version of the Jupyter messaging protocol spoken by this package.
const Version = "5.3"

// delimiter separates routing identities from the signed frames.
const delimiter = "<IDS|MSG>"

// Message types exchanged with a kernel.
const (
	MsgTypeKernelInfoRequest = "kernel_info_request"
	MsgTypeKernelInfoReply   = "kernel_info_reply"
	MsgTypeExecuteRequest    = "execute_request"
	MsgTypeExecuteReply      = "execute_reply"
	MsgTypeExecuteInput      = "execute_input"
	MsgTypeExecuteResult     = "execute_result"
	MsgTypeStream            = "stream"
	MsgTypeDisplayData       = "display_data"
	MsgTypeError             = "error"
	MsgTypeStatus            = "status"
	MsgTypeInterruptRequest  = "interrupt_request"
	MsgTypeInterruptReply    = "interrupt_reply"
	MsgTypeShutdownRequest   = "shutdown_request"
	MsgTypeShutdownReply     = "shutdown_reply"
)

// Header identifies a message and ties replies and pushes to their request.
type Header struct {
	ID       string `json:"msg_id"`
	Username string `json:"username"`
	Session  string `json:"session"`
	Type     string `json:"msg_type"`
	Version  string `json:"version,omitempty"`
}

// Message is one unit of the Jupyter protocol. Content is kept raw; callers
// decode it with the typed content structs once the type is known.
type Message struct {
	Identities   []string
	Header       Header
	ParentHeader Header
	Metadata     map[string]any
	Content      json.RawMessage
}

// New creates a message of the given type for a protocol session,
// with a fresh message ID and empty content.
func New(msgType, session string) *Message {
	return &Message{
		Header: Header{
			ID:       uuid.NewString(),
			Username: "kiln",
			Session:  session,
			Type:     msgType,
			Version:  Version,
		},
		Metadata: map[string]any{},
		Content:  json.RawMessage("{}"),
	}
}

// Reply creates a message of the given type parented to m, inheriting its
// session and username. Used by test doubles standing in for a kernel.
func (m *Message) Reply(msgType string) *Message {
	r := New(msgType, m.Header.Session)
	r.Header.Username = m.Header.Username
	r.ParentHeader = m.Header
	return r
}

// Encode marshals content into the message.
func (m *Message) Encode(content any) error {
	data, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("encoding %s content: %w", m.Header.Type, err)
	}
	m.Content = data
	return nil
}

// Decode unmarshals the message content into out.
func (m *Message) Decode(out any) error {
	if err := json.Unmarshal(m.Content, out); err != nil {
		return fmt.Errorf("decoding %s content: %w", m.Header.Type, err)
	}
	return nil
}

// Serialize converts a message to the signed multipart wire format, ready to
// be transmitted via 0MQ. An empty key disables signing.
func Serialize(msg *Message, key []byte) ([]string, error) {
	header, err := json.Marshal(msg.Header)
	if err != nil {
		return nil, fmt.Errorf("marshalling header: %w", err)
	}
	parentHeader, err := json.Marshal(msg.ParentHeader)
	if err != nil {
		return nil, fmt.Errorf("marshalling parent header: %w", err)
	}
	metadata := msg.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataRaw, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshalling metadata: %w", err)
	}
	content := msg.Content
	if content == nil {
		content = json.RawMessage("{}")
	}

	var signature string
	if len(key) != 0 {
		mac := hmac.New(sha256.New, key)
		mac.Write(header)
		mac.Write(parentHeader)
		mac.Write(metadataRaw)
		mac.Write(content)
		signature = hex.EncodeToString(mac.Sum(nil))
	}

	parts := make([]string, len(msg.Identities), len(msg.Identities)+6)
	copy(parts, msg.Identities)
	parts = append(parts,
		delimiter,
		signature,
		string(header),
		string(parentHeader),
		string(metadataRaw),
		string(content),
	)
	return parts, nil
}

// Deserialize parses a multipart 0MQ message into a Message, verifying the
// signature with the provided key when both are present.
func Deserialize(parts []string, key []byte) (*Message, error) {
	var identities []string
	for {
		if len(parts) == 0 {
			return nil, errors.New("message delimiter not found")
		}
		if parts[0] == delimiter {
			parts = parts[1:]
			break
		}
		identities = append(identities, parts[0])
		parts = parts[1:]
	}

	if len(parts) < 5 {
		return nil, errors.New("not enough parts to message")
	}

	if parts[0] != "" && len(key) != 0 {
		mac := hmac.New(sha256.New, key)
		for _, part := range parts[1:5] {
			mac.Write([]byte(part))
		}
		signature, err := hex.DecodeString(parts[0])
		if err != nil {
			return nil, fmt.Errorf("decoding signature: %w", err)
		}
		if !hmac.Equal(mac.Sum(nil), signature) {
			return nil, errors.New("signature validation failed")
		}
	}

	msg := &Message{Identities: identities}
	if err := json.Unmarshal([]byte(parts[1]), &msg.Header); err != nil {
		return nil, fmt.Errorf("unmarshalling header: %w", err)
	}
	if err := json.Unmarshal([]byte(parts[2]), &msg.ParentHeader); err != nil {
		return nil, fmt.Errorf("unmarshalling parent header: %w", err)
	}
	if err := json.Unmarshal([]byte(parts[3]), &msg.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshalling metadata: %w", err)
	}
	msg.Content = json.RawMessage(parts[4])
	return msg, nil
}
