package retriever

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/baldanca/s3-event-pipeline/failure"
)

// MultiRecordPolicy decides what happens to notifications carrying more than
// one object record.
type MultiRecordPolicy int

const (
	// FirstRecord processes records[0] and logs how many were skipped.
	FirstRecord MultiRecordPolicy = iota
	// RejectMultiRecord fails such notifications as MalformedNotification so
	// they surface through the dead-letter path instead of being half processed.
	RejectMultiRecord
)

func (p MultiRecordPolicy) String() string {
	switch p {
	case FirstRecord:
		return "first"
	case RejectMultiRecord:
		return "reject"
	default:
		return fmt.Sprintf("MultiRecordPolicy(%d)", int(p))
	}
}

// ParseMultiRecordPolicy maps "first" and "reject" to a policy.
func ParseMultiRecordPolicy(s string) (MultiRecordPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "first":
		return FirstRecord, nil
	case "reject":
		return RejectMultiRecord, nil
	default:
		return FirstRecord, fmt.Errorf("unknown multi-record policy %q", s)
	}
}

// ParseNotification extracts every object reference from an S3 event
// notification body. It fails with MalformedNotification when the body is
// empty, not JSON, has no records, or a record lacks a bucket or key.
func ParseNotification(body string) ([]ObjectReference, error) {
	if strings.TrimSpace(body) == "" {
		return nil, failure.New(failure.KindMalformedNotification, errors.New("empty message body"))
	}

	var ev events.S3Event
	if err := json.Unmarshal([]byte(body), &ev); err != nil {
		return nil, failure.New(failure.KindMalformedNotification, fmt.Errorf("parse s3 notification: %w", err))
	}
	if len(ev.Records) == 0 {
		return nil, failure.New(failure.KindMalformedNotification, errors.New("notification has no records"))
	}

	refs := make([]ObjectReference, 0, len(ev.Records))
	for i, rec := range ev.Records {
		bucket := rec.S3.Bucket.Name
		rawKey := rec.S3.Object.Key
		if bucket == "" || rawKey == "" {
			return nil, failure.Newf(failure.KindMalformedNotification, "record %d has no bucket or key", i)
		}
		// S3 form-encodes keys in notifications ("a b.json" arrives as "a+b.json").
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			return nil, failure.Newf(failure.KindMalformedNotification, "record %d key %q: %v", i, rawKey, err)
		}
		refs = append(refs, ObjectReference{
			Bucket:    bucket,
			Key:       key,
			Size:      rec.S3.Object.Size,
			EventName: rec.EventName,
			Region:    rec.AWSRegion,
		})
	}
	return refs, nil
}
