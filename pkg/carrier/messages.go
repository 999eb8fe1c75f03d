// Package carrier speaks the telephony side of the bridge: the media
// stream WebSocket, call-control webhooks, and the call-control API.
// Telnyx field names are the native dialect; Twilio's camelCase stream
// envelope is accepted through the same types.
package carrier

import (
	"errors"
	"fmt"

	"github.com/teslashibe/go-dialtone/pkg/audio"
)

// Stream event names shared by both carriers.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventMark      = "mark"
	EventDTMF      = "dtmf"
	EventStop      = "stop"
	EventClear     = "clear"
)

// TrackInbound is the only media track we forward. Outbound and mixed
// tracks carry the bot's own audio back at us.
const TrackInbound = "inbound"

// Envelope is one carrier stream message in either dialect.
type Envelope struct {
	Event          string      `json:"event"`
	SequenceNumber string      `json:"sequence_number,omitempty"`
	StreamID       string      `json:"stream_id,omitempty"`
	StreamSid      string      `json:"streamSid,omitempty"`
	Start          *StartFrame `json:"start,omitempty"`
	Media          *MediaFrame `json:"media,omitempty"`
	Mark           *MarkFrame  `json:"mark,omitempty"`
	Stop           *StopFrame  `json:"stop,omitempty"`
}

// StartFrame carries the stream's fixed parameters.
type StartFrame struct {
	StreamID        string       `json:"stream_id,omitempty"`
	StreamSid       string       `json:"streamSid,omitempty"`
	CallControlID   string       `json:"call_control_id,omitempty"`
	CallSid         string       `json:"callSid,omitempty"`
	From            string       `json:"from,omitempty"`
	To              string       `json:"to,omitempty"`
	MediaFormat     *MediaFormat `json:"media_format,omitempty"`
	TwilioMediaFmt  *MediaFormat `json:"mediaFormat,omitempty"`
	ClientState     string       `json:"client_state,omitempty"`
	CustomParamsRaw any          `json:"customParameters,omitempty"`
}

// MediaFormat describes the negotiated stream codec.
type MediaFormat struct {
	Encoding         string `json:"encoding"`
	SampleRate       int    `json:"sample_rate,omitempty"`
	TwilioSampleRate int    `json:"sampleRate,omitempty"`
	Channels         int    `json:"channels,omitempty"`
}

// MediaFrame is one audio chunk.
type MediaFrame struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// MarkFrame is a playback checkpoint acknowledgment.
type MarkFrame struct {
	Name string `json:"name"`
}

// StopFrame signals the stream's end.
type StopFrame struct {
	CallControlID string `json:"call_control_id,omitempty"`
	CallSid       string `json:"callSid,omitempty"`
}

// ErrUnsupportedCodec marks a start frame whose media format we cannot
// bridge. The connection is closed with a protocol error.
var ErrUnsupportedCodec = errors.New("carrier: unsupported media encoding")

// StartInfo is the normalized view of a start frame.
type StartInfo struct {
	StreamID      string
	CallControlID string
	From          string
	To            string
	Encoding      audio.Encoding
	SampleRate    int

	// TwilioStyle marks a camelCase-dialect stream; outbound frames
	// must then carry the streamSid.
	TwilioStyle bool
}

// StartInfo normalizes a start envelope across dialects.
func (e *Envelope) StartInfo() (StartInfo, error) {
	if e.Start == nil {
		return StartInfo{}, fmt.Errorf("carrier: start event without start frame")
	}
	s := e.Start

	info := StartInfo{
		StreamID:      firstOf(e.StreamID, s.StreamID, s.StreamSid, e.StreamSid),
		CallControlID: firstOf(s.CallControlID, s.CallSid),
		From:          s.From,
		To:            s.To,
		TwilioStyle:   s.StreamSid != "" || e.StreamSid != "",
	}
	if info.StreamID == "" {
		return StartInfo{}, fmt.Errorf("carrier: start frame without stream id")
	}

	format := s.MediaFormat
	if format == nil {
		format = s.TwilioMediaFmt
	}
	if format == nil {
		// Both carriers default to µ-law when no format is announced.
		info.Encoding = audio.EncodingPCMU
		info.SampleRate = 8000
		return info, nil
	}

	enc, err := audio.ParseEncoding(format.Encoding)
	if err != nil {
		return StartInfo{}, fmt.Errorf("%w: %q", ErrUnsupportedCodec, format.Encoding)
	}
	info.Encoding = enc
	info.SampleRate = firstNonZero(format.SampleRate, format.TwilioSampleRate, 8000)
	return info, nil
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonZero(values ...int) int {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}

// mediaOut builds an outbound media envelope.
func mediaOut(payloadB64, streamSid string) Envelope {
	return Envelope{
		Event:     EventMedia,
		StreamSid: streamSid,
		Media:     &MediaFrame{Payload: payloadB64},
	}
}

// markOut builds an outbound mark envelope.
func markOut(name, streamSid string) Envelope {
	return Envelope{
		Event:     EventMark,
		StreamSid: streamSid,
		Mark:      &MarkFrame{Name: name},
	}
}

// clearOut builds the envelope that flushes the carrier's buffered
// playback.
func clearOut(streamSid string) Envelope {
	return Envelope{Event: EventClear, StreamSid: streamSid}
}
