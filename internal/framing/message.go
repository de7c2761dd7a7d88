// File: internal/framing/message.go
// License: Apache-2.0

package framing

import (
	"bufio"
	"bytes"
	"net/http"
)

// Kind classifies a framed message.
type Kind int

const (
	KindRequest Kind = iota
	KindResponse
)

func (k Kind) String() string {
	if k == KindResponse {
		return "response"
	}
	return "request"
}

var responseMarker = []byte("HTTP")

// Classify applies the four-byte heuristic: anything starting with "HTTP" is
// a response, everything else a request. The engine frames by declared
// Direction instead; Classify is offered to callers that want the heuristic.
func Classify(buf []byte) Kind {
	if bytes.HasPrefix(buf, responseMarker) {
		return KindResponse
	}
	return KindRequest
}

// Message is one framed HTTP message.
type Message struct {
	Kind     Kind
	Raw      []byte
	Request  *http.Request
	Response *http.Response
}

// Parse hands a complete framed message to net/http. raw is retained by the
// returned Message.
func Parse(dir Direction, raw []byte) (Message, error) {
	br := bufio.NewReader(bytes.NewReader(raw))
	if dir == Response {
		resp, err := http.ReadResponse(br, nil)
		if err != nil {
			return Message{}, protocolError(ErrMalformed, err.Error())
		}
		return Message{Kind: KindResponse, Raw: raw, Response: resp}, nil
	}
	req, err := http.ReadRequest(br)
	if err != nil {
		return Message{}, protocolError(ErrMalformed, err.Error())
	}
	return Message{Kind: KindRequest, Raw: raw, Request: req}, nil
}
