package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapabilities_SupportsRouting(t *testing.T) {
	tests := []struct {
		name string
		caps Capabilities
		want bool
	}{
		{name: "ordered fan-out", caps: Capabilities{SupportsOrdering: true, SupportsFanOut: true}, want: true},
		{name: "unordered", caps: Capabilities{SupportsFanOut: true}, want: false},
		{name: "queue semantics", caps: Capabilities{SupportsOrdering: true}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.caps.SupportsRouting())
		})
	}
}

func TestPredefinedCapabilities(t *testing.T) {
	for _, caps := range []Capabilities{
		InprocCapabilities,
		FileLogCapabilities,
		NATSCapabilities,
		KafkaCapabilities,
		RabbitMQCapabilities,
	} {
		t.Run(caps.Name, func(t *testing.T) {
			assert.True(t, caps.SupportsRouting())
		})
	}

	assert.False(t, InprocCapabilities.CrossProcess)
	assert.True(t, FileLogCapabilities.CrossProcess)
	assert.False(t, FileLogCapabilities.CrossHost)
	assert.True(t, NATSCapabilities.CrossHost)
}
