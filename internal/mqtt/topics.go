package mqtt

import (
	"strings"
)

// Topic is a wire topic template with its delivery options. Templates use
// {name} placeholders, e.g. "gateway/telemetry/{device_id}".
type Topic struct {
	Template string
	QoS      byte
	Retain   bool
}

// Format substitutes placeholders from key/value pairs
func (t Topic) Format(kv ...string) string {
	out := t.Template
	for i := 0; i+1 < len(kv); i += 2 {
		out = strings.ReplaceAll(out, "{"+kv[i]+"}", kv[i+1])
	}
	return out
}

// Prefix is the fixed part of the template before its first placeholder.
// For a topic without placeholders it is the whole topic.
func (t Topic) Prefix() string {
	if i := strings.IndexByte(t.Template, '{'); i >= 0 {
		return t.Template[:i]
	}
	return t.Template
}

// Templated reports whether the topic has placeholders
func (t Topic) Templated() bool {
	return strings.IndexByte(t.Template, '{') >= 0
}

// Suffix returns the part of topic after the template prefix
func (t Topic) Suffix(topic string) (string, bool) {
	p := t.Prefix()
	if !t.Templated() || !strings.HasPrefix(topic, p) {
		return "", false
	}
	return topic[len(p):], true
}

// Match reports whether topic matches an MQTT subscription filter with + and # wildcards
func Match(filter, topic string) bool {
	if filter == topic {
		return true
	}
	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")
	for i, f := range fs {
		if f == "#" {
			return true
		}
		if i >= len(ts) {
			return false
		}
		if f != "+" && f != ts[i] {
			return false
		}
	}
	return len(fs) == len(ts)
}
