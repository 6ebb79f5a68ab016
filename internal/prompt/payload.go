// Package prompt builds the structured input payload sent to an agent
// process. When a send carries attachments the payload is written as a
// single stream-json document on the process stdin; plain text sends skip
// it and pass the message as a command-line argument instead.
package prompt

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// PartKind discriminates payload content parts.
type PartKind string

const (
	PartText  PartKind = "text"
	PartImage PartKind = "image"
	PartFile  PartKind = "file"
)

// Attachment is one file the user attached to a send. Images are embedded
// as base64; everything else is embedded as text inside a delimiter block.
type Attachment struct {
	Name      string
	MediaType string // e.g. "image/png"; empty means treat as text
	Data      []byte
}

// IsImage reports whether the attachment embeds as an inline image.
func (a Attachment) IsImage() bool {
	return strings.HasPrefix(a.MediaType, "image/")
}

// Part is one ordered element of a payload.
type Part struct {
	Kind      PartKind
	Text      string
	Name      string
	MediaType string
	Data      []byte
}

// Payload is an ordered sequence of content parts. It is built once per
// send and never mutated after construction.
type Payload struct {
	parts []Part
}

// Build assembles a payload: the text part first, attachments after, in
// the order given. Message may be empty when at least one attachment is
// present.
func Build(message string, attachments []Attachment) (*Payload, error) {
	if strings.TrimSpace(message) == "" && len(attachments) == 0 {
		return nil, fmt.Errorf("prompt: empty message and no attachments")
	}

	p := &Payload{}
	if message != "" {
		p.parts = append(p.parts, Part{Kind: PartText, Text: message})
	}
	for _, a := range attachments {
		if a.IsImage() {
			p.parts = append(p.parts, Part{
				Kind:      PartImage,
				Name:      a.Name,
				MediaType: a.MediaType,
				Data:      a.Data,
			})
			continue
		}
		p.parts = append(p.parts, Part{
			Kind: PartFile,
			Name: a.Name,
			Text: string(a.Data),
		})
	}
	return p, nil
}

// Parts returns a copy of the ordered parts.
func (p *Payload) Parts() []Part {
	out := make([]Part, len(p.parts))
	copy(out, p.parts)
	return out
}

// HasAttachments reports whether any non-text part is present.
func (p *Payload) HasAttachments() bool {
	for _, part := range p.parts {
		if part.Kind != PartText {
			return true
		}
	}
	return false
}

// Text returns the concatenated text parts, used for the simple argument
// path when no attachments are present.
func (p *Payload) Text() string {
	var b strings.Builder
	for _, part := range p.parts {
		if part.Kind == PartText {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

// wire shapes for the stdin document.
type wireUserMessage struct {
	Type    string      `json:"type"`
	Message wireMessage `json:"message"`
}

type wireMessage struct {
	Role    string      `json:"role"`
	Content []wireBlock `json:"content"`
}

type wireBlock struct {
	Type   string      `json:"type"`
	Text   string      `json:"text,omitempty"`
	Source *wireImgSrc `json:"source,omitempty"`
}

type wireImgSrc struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// Encode renders the payload as the single stream-json user message the
// agent CLI accepts on stdin.
func (p *Payload) Encode() ([]byte, error) {
	msg := wireUserMessage{
		Type:    "user",
		Message: wireMessage{Role: "user"},
	}
	for _, part := range p.parts {
		switch part.Kind {
		case PartText:
			msg.Message.Content = append(msg.Message.Content, wireBlock{
				Type: "text",
				Text: part.Text,
			})
		case PartImage:
			msg.Message.Content = append(msg.Message.Content, wireBlock{
				Type: "image",
				Source: &wireImgSrc{
					Type:      "base64",
					MediaType: part.MediaType,
					Data:      base64.StdEncoding.EncodeToString(part.Data),
				},
			})
		case PartFile:
			msg.Message.Content = append(msg.Message.Content, wireBlock{
				Type: "text",
				Text: wrapFileBlock(part.Name, part.Text),
			})
		}
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("prompt: encoding payload: %w", err)
	}
	return append(data, '\n'), nil
}

// wrapFileBlock fences a file's content so the model can tell where the
// attachment starts and ends.
func wrapFileBlock(name, content string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "--- file: %s ---\n", name)
	b.WriteString(content)
	if !strings.HasSuffix(content, "\n") {
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "--- end file: %s ---", name)
	return b.String()
}
