package model

import "time"

// Report represents the complete result of one extraction run
type Report struct {
	Target    string    `json:"target"`          // Endpoint that was queried
	Param     string    `json:"param"`           // Vulnerable parameter
	Root      string    `json:"root"`            // Address the walk started from
	StartedAt time.Time `json:"started_at"`      // When the run began
	Duration  string    `json:"duration"`        // Wall-clock time spent
	Stats     Stats     `json:"stats"`           // Oracle activity
	Partial   bool      `json:"partial"`         // Whether the walk was cut short
	Error     string    `json:"error,omitempty"` // Why the walk was cut short
	Data      *Object   `json:"data"`            // Reconstructed document
}

// NodeCount returns the number of values recorded anywhere in the report data
func (r *Report) NodeCount() int {
	if r == nil {
		return 0
	}
	return countObject(r.Data)
}

func countObject(o *Object) int {
	n := 0
	for _, name := range o.Names() {
		v, _ := o.Get(name)
		n += countValue(v)
	}
	return n
}

func countValue(v Value) int {
	switch v.Kind() {
	case KindObject:
		return 1 + countObject(v.Object())
	case KindList:
		n := 0
		for _, item := range v.List() {
			n += countValue(item)
		}
		return n
	default:
		return 1
	}
}
