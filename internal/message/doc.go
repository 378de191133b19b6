// Package message defines the data model shared across the pipeline:
// event records, upload statuses, attribution changes, reporting messages,
// and alias requests.
//
// Events are a tagged variant: the Kind field selects the wire type code,
// typed fields cover the known payload, and Extra carries forward-compatible
// fields that older readers can ignore. Serialized documents use short wire
// keys ("dt", "ct", "sid", ...) so payload size stays small on device.
package message
