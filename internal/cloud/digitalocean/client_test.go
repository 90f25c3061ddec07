package digitalocean

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/outpost-vpn/outpost/internal/cloud"
)

func TestKVTagRoundTrip(t *testing.T) {
	// Management URLs carry characters a droplet tag cannot; the codec must
	// get them through the tag charset intact.
	url := "https://198.51.100.99:8443/SecretPath=="
	tag := encodeKVTag(cloud.TagKeyManagementURL, url)

	decoded := decodeKVTags([]string{MarkerTag, tag, "user-tag"})
	assert.Equal(t, url, decoded[cloud.TagKeyManagementURL])
	assert.Len(t, decoded, 1)
}

func TestDecodeKVTags_IgnoresMalformed(t *testing.T) {
	decoded := decodeKVTags([]string{
		"kv:orphankey",         // missing value segment
		"kv:broken:!!invalid!", // not base64url
		"other:pair:ignored",   // wrong prefix
	})
	assert.Empty(t, decoded)
}

func TestDropletState(t *testing.T) {
	assert.Equal(t, cloud.StatePending, dropletState("new"))
	assert.Equal(t, cloud.StateRunning, dropletState("active"))
	assert.Equal(t, cloud.StateStopping, dropletState("off"))
	assert.Equal(t, cloud.StateUnknown, dropletState("weird"))
}

func TestRegionCountry(t *testing.T) {
	assert.Equal(t, "NL", regionCountry("ams3"))
	assert.Equal(t, "US", regionCountry("nyc1"))
	assert.Equal(t, "", regionCountry("xx9"))
}
