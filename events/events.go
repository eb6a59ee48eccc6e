// Package events wraps patch-apply outcome notifications as CloudEvents,
// following the same constructor and payload/extension convention as
// module-lifecycle events elsewhere in this stack.
package events

import (
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"

	"github.com/GoCodeAlone/hotpatch/installer"
)

// TypePatchApplied is the CloudEvents type for a completed apply,
// successful or partially successful.
const TypePatchApplied = "hotpatch.patch.applied.v1"

// PayloadSchema identifies the structured payload schema for routing
// without a full payload decode.
const PayloadSchema = "hotpatch.patch.applied.v1"

// Payload is the structured event body mirrored from
// installer.ApplyResult, kept separate from it so the wire schema is
// stable independent of internal field additions.
type Payload struct {
	Assembly          string                        `json:"assembly"`
	RuntimeModuleUUID string                        `json:"runtime_module_uuid"`
	Patched           int                           `json:"patched"`
	Dispatched        int                           `json:"dispatched"`
	Trampolines       int                           `json:"trampolines"`
	Skipped           int                           `json:"skipped"`
	Errors            []string                      `json:"errors,omitempty"`
	MethodPatches     []installer.MethodPatchOutcome `json:"method_patches"`
	Timestamp         time.Time                     `json:"timestamp"`
}

// NewPatchAppliedEvent builds a CloudEvent for res, sourced from
// "hotpatch-engine".
func NewPatchAppliedEvent(res *installer.ApplyResult, at time.Time) cloudevents.Event {
	payload := Payload{
		Assembly:          res.Assembly,
		RuntimeModuleUUID: res.RuntimeModuleUUID,
		Patched:           res.Patched,
		Dispatched:        res.Dispatched,
		Trampolines:       res.Trampolines,
		Skipped:           res.Skipped,
		Errors:            res.Errors,
		MethodPatches:     res.MethodPatches,
		Timestamp:         at,
	}

	event := cloudevents.NewEvent()
	event.SetID(generateEventID())
	event.SetSource("hotpatch-engine")
	event.SetType(TypePatchApplied)
	event.SetTime(at)
	event.SetSpecVersion(cloudevents.VersionV1)
	event.SetExtension("payload_schema", PayloadSchema)
	event.SetExtension("assembly", res.Assembly)
	_ = event.SetData(cloudevents.ApplicationJSON, payload)
	return event
}

func generateEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}
