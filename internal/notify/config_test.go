package notify

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildChannels_ConstructsEachConfiguredType(t *testing.T) {
	specs := map[string]ChannelSpec{
		"ops": {
			Type:   "webhook",
			Events: []string{"trigger"},
			Webhook: WebhookConfig{
				URL: "https://hooks.example.com/ops",
			},
		},
	}

	channels, err := BuildChannels(specs)
	require.NoError(t, err)
	require.Contains(t, channels, "ops")
	require.Equal(t, []Kind{EventTrigger}, channels["ops"].Events())
}

func TestBuildChannels_UnknownTypeIsError(t *testing.T) {
	specs := map[string]ChannelSpec{
		"bad": {Type: "carrier-pigeon"},
	}
	_, err := BuildChannels(specs)
	require.Error(t, err)
}

func TestBuildChannels_InvalidChannelFailsWholeLoad(t *testing.T) {
	specs := map[string]ChannelSpec{
		"ops": {Type: "webhook", Webhook: WebhookConfig{URL: "https://hooks.example.com/ops"}},
		"bad": {Type: "webhook"}, // missing URL
	}
	_, err := BuildChannels(specs)
	require.Error(t, err)
}
