package models

import "time"

// Output media types. OutputTypeDetection marks a CSV carrying detection
// rows so downstream drivers can find it by kind.
const (
	OutputTypeVideoMP4  = "video/mp4"
	OutputTypeCSV       = "text/csv"
	OutputTypeStdout    = "text/stdout"
	OutputTypeStderr    = "text/stderr"
	OutputTypeDetection = "text/detection"
)

// Output is one named artifact produced by a task. Name is unique across
// the catalog, by convention "<taskid>.<ext>". Metadata propagates context
// (source CCTV, time window, fps, confidence) to downstream tasks.
type Output struct {
	TaskID    string            `json:"taskid"`
	Name      string            `json:"name"`
	Type      string            `json:"type"`
	Desc      string            `json:"desc"`
	CreatedAt time.Time         `json:"createdat"`
	Metadata  map[string]string `json:"metadata"`
}

// NewOutput creates an output record stamped with the current time.
func NewOutput(taskID, name, mediaType, desc string, metadata map[string]string) *Output {
	m := make(map[string]string, len(metadata))
	for k, v := range metadata {
		m[k] = v
	}
	return &Output{
		TaskID:    taskID,
		Name:      name,
		Type:      mediaType,
		Desc:      desc,
		CreatedAt: time.Now().UTC(),
		Metadata:  m,
	}
}

// Clone returns a deep copy.
func (o *Output) Clone() *Output {
	cp := *o
	cp.Metadata = make(map[string]string, len(o.Metadata))
	for k, v := range o.Metadata {
		cp.Metadata[k] = v
	}
	return &cp
}
