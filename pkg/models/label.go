package models

// System label keys attached by the engine itself.
const (
	LabelCorrelationID = "system.correlationId"
	LabelRestarted     = "system.restarted"
	LabelReplay        = "system.replay"
	LabelError         = "system.error"
)

// Label is one key/value pair attached to an execution. Insertion order is
// preserved and lookups read the first match; Execution.WithLabel is
// add-if-absent, so engine-attached labels never shadow declared ones.
type Label struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// HasLabel reports whether a label with the given key exists.
func HasLabel(labels []Label, key string) bool {
	for _, l := range labels {
		if l.Key == key {
			return true
		}
	}

	return false
}

// LabelValue returns the value of the first label with the given key.
func LabelValue(labels []Label, key string) (string, bool) {
	for _, l := range labels {
		if l.Key == key {
			return l.Value, true
		}
	}

	return "", false
}
