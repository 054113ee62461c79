package mqtt

import "strings"

// jsonSuffix is the last level of topics carrying JSON events.
const jsonSuffix = "/json"

// MachineIDFromTopic extracts the machine id from an event topic of the
// form <prefix><machine_id>[/json]. It returns "" when topic does not start
// with prefix.
//
// Example: MachineIDFromTopic("incoming/machine/", "incoming/machine/m-17/json") == "m-17"
func MachineIDFromTopic(prefix, topic string) string {
	rest, ok := strings.CutPrefix(topic, prefix)
	if !ok {
		return ""
	}
	rest = strings.TrimSuffix(rest, jsonSuffix)
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

// ValidTopicFilter reports whether topic is usable as a subscription filter:
// non-empty, and any wildcard occupies a whole level with '#' last.
func ValidTopicFilter(topic string) bool {
	if topic == "" {
		return false
	}
	levels := strings.Split(topic, "/")
	for i, level := range levels {
		if strings.ContainsAny(level, "+#") && len(level) != 1 {
			return false
		}
		if level == "#" && i != len(levels)-1 {
			return false
		}
	}
	return true
}
