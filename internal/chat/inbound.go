package chat

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
)

var (
	// ErrUnknownEventType is returned for inbound events whose type is not
	// handled.
	ErrUnknownEventType = errors.New("unknown event type")
	// ErrInvalidEvent is returned for inbound events that are not well formed.
	ErrInvalidEvent = errors.New("invalid event")
	// ErrInvalidUsername is returned for usernames that cannot be used as a
	// registry key or URL segment.
	ErrInvalidUsername = errors.New("invalid username")
)

var validate = validator.New()

// Inbound is an event received from a client.
type Inbound interface {
	inbound()
}

// SendRequest asks for a message to be delivered to Target.
type SendRequest struct {
	ID     MessageID `json:"id"`
	Kind   Kind      `json:"type" validate:"oneof=text image"`
	Target string    `json:"target" validate:"required,max=64"`
	Body   string    `json:"message" validate:"required"`
}

// MarkReadRequest marks every message received from Target as read.
type MarkReadRequest struct {
	Target string `json:"target" validate:"required,max=64"`
}

// TypingRequest relays a typing indicator to Target.
type TypingRequest struct {
	Target   string `json:"target" validate:"required,max=64"`
	IsTyping bool   `json:"isTyping"`
}

func (SendRequest) inbound()     {}
func (MarkReadRequest) inbound() {}
func (TypingRequest) inbound()   {}

type envelope struct {
	Type string `json:"type"`
}

// ParseInbound decodes and validates one client event.
func ParseInbound(raw []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	var ev Inbound
	var err error
	switch env.Type {
	case EventText, EventImage:
		ev, err = decode[SendRequest](raw)
		if err == nil {
			err = checkImage(ev.(SendRequest))
		}
	case EventMarkRead:
		ev, err = decode[MarkReadRequest](raw)
	case EventTyping:
		ev, err = decode[TypingRequest](raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, env.Type)
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func decode[T Inbound](raw []byte) (T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if err := validate.Struct(v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return v, nil
}

func checkImage(req SendRequest) error {
	if req.Kind != KindImage {
		return nil
	}
	if err := ValidateImage(req.Body); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return nil
}

// ValidateImage accepts either an http(s) URL or a base64 data URL whose
// decoded content is detected as an image.
func ValidateImage(body string) error {
	if rest, ok := strings.CutPrefix(body, "data:"); ok {
		_, payload, found := strings.Cut(rest, ",")
		if !found {
			return errors.New("malformed data url")
		}
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return fmt.Errorf("image payload: %w", err)
		}
		mime := mimetype.Detect(data)
		if !strings.HasPrefix(mime.String(), "image/") {
			return fmt.Errorf("payload is %s, not an image", mime.String())
		}
		return nil
	}

	u, err := url.Parse(body)
	if err != nil {
		return fmt.Errorf("image url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("image url %q is not an http(s) url", body)
	}
	return nil
}

// ValidateUsername checks that name can be used as a registry key and URL
// path segment.
func ValidateUsername(name string) error {
	if strings.ContainsFunc(name, unicode.IsSpace) {
		return fmt.Errorf("%w: %q contains whitespace", ErrInvalidUsername, name)
	}
	if err := validate.Var(name, "required,max=64,excludesall=/?#%"); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidUsername, err)
	}
	return nil
}
