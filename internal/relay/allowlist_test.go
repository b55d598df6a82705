package relay_test

import (
	"testing"

	"github.com/ameshkov/connectgate/internal/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowList_IsPermitted(t *testing.T) {
	l := relay.NewAllowList("api.allowed.example:443", "10.0.0.1:8443")

	testCases := []struct {
		name   string
		target string
		want   bool
	}{{
		name:   "exact",
		target: "api.allowed.example:443",
		want:   true,
	}, {
		name:   "ip",
		target: "10.0.0.1:8443",
		want:   true,
	}, {
		name:   "empty",
		target: "",
		want:   false,
	}, {
		name:   "other_port",
		target: "api.allowed.example:80",
		want:   false,
	}, {
		name:   "no_port",
		target: "api.allowed.example",
		want:   false,
	}, {
		name:   "case",
		target: "API.allowed.example:443",
		want:   false,
	}, {
		name:   "scheme",
		target: "https://api.allowed.example:443",
		want:   false,
	}, {
		name:   "trailing_slash",
		target: "api.allowed.example:443/",
		want:   false,
	}, {
		name:   "trailing_dot",
		target: "api.allowed.example.:443",
		want:   false,
	}, {
		name:   "subdomain",
		target: "x.api.allowed.example:443",
		want:   false,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, l.IsPermitted(tc.target))
			// The decision must not depend on previous calls.
			assert.Equal(t, tc.want, l.IsPermitted(tc.target))
		})
	}
}

func TestAllowList_empty(t *testing.T) {
	var nilList *relay.AllowList
	require.False(t, nilList.IsPermitted("example.com:443"))
	require.Zero(t, nilList.Len())

	l := relay.NewAllowList()
	require.False(t, l.IsPermitted("example.com:443"))
	require.False(t, l.IsPermitted(""))
	require.Zero(t, l.Len())
}
