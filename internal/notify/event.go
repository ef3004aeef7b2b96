// Package notify parses EC2 Image Builder state-change notifications, the
// event that announces a freshly built hardened AMI.
package notify

import (
	"encoding/json"
	"fmt"
	"io"
)

// statusAvailable is the Image Builder image state that carries a usable AMI.
const statusAvailable = "AVAILABLE"

// BuildEvent is the distilled content of an Image Builder notification.
type BuildEvent struct {
	// AMI is the output image id of the first AMI resource in the event.
	// Empty when the build produced no AMI (failed builds).
	AMI string `json:"ami"`

	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Available reports whether the event announces a finished, usable image.
func (e *BuildEvent) Available() bool { return e.Status == statusAvailable }

// imageStateChange mirrors the relevant fields of the raw Image Builder
// message.
type imageStateChange struct {
	State struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	} `json:"state"`
	OutputResources struct {
		Amis []struct {
			Image  string `json:"image"`
			Region string `json:"region"`
		} `json:"amis"`
	} `json:"outputResources"`
}

// snsEnvelope is the wrapper SNS delivers to subscribers; the Image Builder
// message is embedded as a JSON string.
type snsEnvelope struct {
	Records []struct {
		Sns struct {
			Message string `json:"Message"`
		} `json:"Sns"`
	} `json:"Records"`
}

// ParseImageBuilderEvent reads an Image Builder state-change notification
// from r. Both the raw Image Builder message and the SNS delivery envelope
// are accepted.
func ParseImageBuilderEvent(r io.Reader) (*BuildEvent, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read event: %w", err)
	}

	// SNS envelope first: its Message field holds the raw message.
	var env snsEnvelope
	if err := json.Unmarshal(data, &env); err == nil && len(env.Records) > 0 && env.Records[0].Sns.Message != "" {
		data = []byte(env.Records[0].Sns.Message)
	}

	var msg imageStateChange
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("parse image builder event: %w", err)
	}
	if msg.State.Status == "" {
		return nil, fmt.Errorf("parse image builder event: no state.status field")
	}

	event := &BuildEvent{
		Status: msg.State.Status,
		Reason: msg.State.Reason,
	}
	if len(msg.OutputResources.Amis) > 0 {
		event.AMI = msg.OutputResources.Amis[0].Image
	}
	if event.Available() && event.AMI == "" {
		return nil, fmt.Errorf("image builder event is AVAILABLE but lists no output AMI")
	}
	return event, nil
}
