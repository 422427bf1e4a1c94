package mqtt

import "testing"

func TestTopicFormat(t *testing.T) {
	topic := Topic{Template: "gateway/telemetry/{device_id}"}
	if got := topic.Format("device_id", "42"); got != "gateway/telemetry/42" {
		t.Errorf("Format() = %q", got)
	}
	if got := topic.Prefix(); got != "gateway/telemetry/" {
		t.Errorf("Prefix() = %q", got)
	}
	if s, ok := topic.Suffix("gateway/telemetry/42"); !ok || s != "42" {
		t.Errorf("Suffix() = %q, %v", s, ok)
	}
	if _, ok := topic.Suffix("gateway/lwt"); ok {
		t.Error("Suffix() matched foreign topic")
	}

	fixed := Topic{Template: "gateway/lwt"}
	if fixed.Templated() || fixed.Prefix() != "gateway/lwt" {
		t.Errorf("fixed topic = %+v prefix %q", fixed, fixed.Prefix())
	}
}

func TestMatch(t *testing.T) {
	tests := []struct {
		filter, topic string
		want          bool
	}{
		{"a/b/c", "a/b/c", true},
		{"a/+/c", "a/b/c", true},
		{"a/+", "a/b/c", false},
		{"a/#", "a/b/c", true},
		{"v1/devices/me/rpc/request/+", "v1/devices/me/rpc/request/17", true},
		{"a/b", "a/c", false},
		{"a/b/c", "a/b", false},
	}
	for _, tt := range tests {
		if got := Match(tt.filter, tt.topic); got != tt.want {
			t.Errorf("Match(%q, %q) = %v, want %v", tt.filter, tt.topic, got, tt.want)
		}
	}
}
