// Package trigger turns inbound invocation payloads into storage events.
//
// Three payload shapes are accepted:
//
//   - an S3 event notification ({"Records": [...]}), delivered directly to
//     the function by the bucket's notification configuration;
//   - an EventBridge "Object Created" event from S3;
//   - a direct payload {"bucket": "...", "name": "...", "projectId": "..."},
//     used by pipelinectl invoke and manual test invocations.
package trigger

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog/log"
)

// ErrEmptyEvent is returned when a payload names no bucket or object.
var ErrEmptyEvent = errors.New("event has no bucket or object name")

// Event is one storage-change notification: which object changed and which
// project it belongs to.
type Event struct {
	Bucket    string `json:"bucket"`
	Name      string `json:"name"`
	ProjectID string `json:"projectId,omitempty"`
}

// ObjectURI returns the s3:// URI of the object.
func (e Event) ObjectURI() string {
	return "s3://" + e.Bucket + "/" + e.Name
}

// Validate checks that the event names an object.
func (e Event) Validate() error {
	if e.Bucket == "" || e.Name == "" {
		return fmt.Errorf("%w (bucket=%q, name=%q)", ErrEmptyEvent, e.Bucket, e.Name)
	}
	return nil
}

// envelope sniffs which payload shape arrived.
type envelope struct {
	Records    []json.RawMessage `json:"Records"`
	Source     string            `json:"source"`
	DetailType string            `json:"detail-type"`
	Detail     json.RawMessage   `json:"detail"`
}

// eventBridgeDetail is the detail block of an S3 "Object Created" event.
type eventBridgeDetail struct {
	Bucket struct {
		Name string `json:"name"`
	} `json:"bucket"`
	Object struct {
		Key string `json:"key"`
	} `json:"object"`
}

// Parse decodes raw into events. Events without a project ID get
// defaultProject. S3 removal notifications are skipped, so the result may be
// empty without an error.
func Parse(raw []byte, defaultProject string) ([]Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode trigger payload: %w", err)
	}

	var out []Event
	switch {
	case len(env.Records) > 0:
		var s3Event events.S3Event
		if err := json.Unmarshal(raw, &s3Event); err != nil {
			return nil, fmt.Errorf("decode S3 notification: %w", err)
		}
		for _, record := range s3Event.Records {
			if strings.HasPrefix(record.EventName, "ObjectRemoved") {
				log.Debug().Str("eventName", record.EventName).Str("key", record.S3.Object.Key).Msg("Skipping removal notification")
				continue
			}
			key, err := DecodeKey(record.S3.Object.Key)
			if err != nil {
				return nil, err
			}
			out = append(out, Event{Bucket: record.S3.Bucket.Name, Name: key})
		}

	case env.Source == "aws.s3" && len(env.Detail) > 0:
		if env.DetailType != "Object Created" {
			log.Debug().Str("detailType", env.DetailType).Msg("Skipping non-create S3 event")
			return nil, nil
		}
		var detail eventBridgeDetail
		if err := json.Unmarshal(env.Detail, &detail); err != nil {
			return nil, fmt.Errorf("decode EventBridge detail: %w", err)
		}
		out = append(out, Event{Bucket: detail.Bucket.Name, Name: detail.Object.Key})

	default:
		var direct Event
		if err := json.Unmarshal(raw, &direct); err != nil {
			return nil, fmt.Errorf("decode direct event: %w", err)
		}
		out = append(out, direct)
	}

	for i := range out {
		if out[i].ProjectID == "" {
			out[i].ProjectID = defaultProject
		}
		if err := out[i].Validate(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// DecodeKey reverses the form encoding S3 applies to object keys in event
// notifications ("my+file%281%29.json" -> "my file(1).json").
func DecodeKey(key string) (string, error) {
	decoded, err := url.QueryUnescape(key)
	if err != nil {
		return "", fmt.Errorf("decode object key %q: %w", key, err)
	}
	return decoded, nil
}
