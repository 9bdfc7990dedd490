package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequest(t *testing.T) {
	req, err := NewRequest("https://Ads.Tracker.net/pixel.gif", "https://www.youtube.com/watch")
	require.NoError(t, err)
	assert.Equal(t, "ads.tracker.net", req.Host)
	assert.Equal(t, "www.youtube.com", req.PageHost)
	assert.True(t, req.ThirdParty())

	req, err = NewRequest("https://i.ytimg.com/vi/x.jpg", "https://www.youtube.com/")
	require.NoError(t, err)
	assert.True(t, req.ThirdParty(), "ytimg.com is a different registrable domain")

	req, err = NewRequest("https://m.youtube.com/", "")
	require.NoError(t, err)
	assert.Empty(t, req.PageHost)
	assert.False(t, req.ThirdParty())

	_, err = NewRequest("not a url", "")
	assert.Error(t, err)
	_, err = NewRequest("https://ok.example/", "::bad")
	assert.Error(t, err)
}

func TestRuleSourceSet_Validate(t *testing.T) {
	ok := SourcesFromURLs("https://easylist.to/easylist/easylist.txt", "http://127.0.0.1:8080/list.txt")
	require.NoError(t, ok.Validate())
	assert.Equal(t, []string{"https://easylist.to/easylist/easylist.txt", "http://127.0.0.1:8080/list.txt"}, ok.URLs())
	assert.Equal(t, FormatAdblock, ok[0].Format)

	assert.ErrorIs(t, RuleSourceSet{}.Validate(), ErrNoSources)
	assert.Error(t, SourcesFromURLs("ftp://example.com/list").Validate())
	assert.Error(t, SourcesFromURLs("https:///nohost").Validate())
	assert.Error(t, RuleSourceSet{{URL: "https://example.com/x", Format: "json"}}.Validate())
	assert.NoError(t, RuleSourceSet{{URL: "https://example.com/x"}}.Validate(), "empty format defaults to adblock")
}

func TestParseListFormat(t *testing.T) {
	for in, want := range map[string]ListFormat{"": FormatAdblock, " Hosts ": FormatHosts, "PLAIN": FormatPlain, "adblock": FormatAdblock} {
		got, err := ParseListFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseListFormat("csv")
	assert.Error(t, err)
}
