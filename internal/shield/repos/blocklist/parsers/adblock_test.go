package parsers

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/rr-shield/internal/shield/common/log"
	"github.com/haukened/rr-shield/internal/shield/domain"
)

func TestParseAdblockList_Basics(t *testing.T) {
	input := `[Adblock Plus 2.0]
! Title: test list
! Expires: 4 days
||ads.example.com^
||Tracker.NET^$third-party
@@||cdn.example.com^
||ads.example.com^
||example.org/path^
/banner/*
example.com##.ad-slot
example.com#@#.sponsor
||video.example.com^$script
||popup.example^$important
||*.bad.example^
||both.example.com^$3p,important
@@||both.example.com^$document
`
	now := time.Unix(1723550000, 0)
	got, err := ParseAdblockList(strings.NewReader(input), "https://lists.example/test.txt", log.NewNoopLogger(), now)
	require.NoError(t, err)

	type want struct {
		name       string
		exception  bool
		thirdParty bool
	}
	expected := []want{
		{"ads.example.com", false, false},
		{"tracker.net", false, true},
		{"cdn.example.com", true, false},
		{"popup.example", false, false},
		{"both.example.com", false, true},
		{"both.example.com", true, false},
	}
	require.Len(t, got, len(expected), "rules: %#v", got)
	for i, w := range expected {
		assert.Equal(t, w.name, got[i].Name, "rule %d", i)
		assert.Equal(t, w.exception, got[i].Exception, "rule %d exception", i)
		assert.Equal(t, w.thirdParty, got[i].ThirdParty, "rule %d third-party", i)
		assert.True(t, got[i].IsSuffix(), "rule %d should be suffix", i)
		assert.Equal(t, "https://lists.example/test.txt", got[i].Source)
		assert.True(t, got[i].AddedAt.Equal(now))
	}
}

func TestParseAdblockList_KeepsGeneralAfterThirdPartyVariant(t *testing.T) {
	inputs := map[string]string{
		"third-party first": "||ads.example.com^$third-party\n||ads.example.com^\n||ads.example.com^$third-party\n",
		"general first":     "||ads.example.com^\n||ads.example.com^$third-party\n||ads.example.com^\n",
	}
	for name, input := range inputs {
		t.Run(name, func(t *testing.T) {
			got, err := ParseAdblockList(strings.NewReader(input), "s", log.NewNoopLogger(), time.Now())
			require.NoError(t, err)
			require.Len(t, got, 2)
			var general, scoped int
			for _, r := range got {
				assert.Equal(t, "ads.example.com", r.Name)
				if r.ThirdParty {
					scoped++
				} else {
					general++
				}
			}
			assert.Equal(t, 1, general)
			assert.Equal(t, 1, scoped)
		})
	}
}

func TestParseAdblockList_LongLinesAccepted(t *testing.T) {
	long := "example.com##+js(" + strings.Repeat("x", 100_000) + ")"
	input := long + "\n||ads.example.com^\n"
	got, err := ParseAdblockList(strings.NewReader(input), "s", log.NewNoopLogger(), time.Now())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ads.example.com", got[0].Name)
}

func TestParseAdblockList_ScannerError(t *testing.T) {
	big := bytes.Repeat([]byte{'a'}, maxScanToken+10)
	got, err := ParseAdblockList(bytes.NewReader(big), "s", log.NewNoopLogger(), time.Now())
	assert.Error(t, err)
	assert.Nil(t, got)
}

func TestParseNetworkRule(t *testing.T) {
	now := time.Now()
	cases := []struct {
		line string
		ok   bool
	}{
		{"||example.com^", true},
		{"||example.com^|", true},
		{"||example.com", true},
		{"@@||example.com^", true},
		{"|https://example.com/", false},
		{"||example.com^$domain=foo.com", false},
		{"||example.com^$~third-party", false},
		{"||localhost^", false},
		{"||^", false},
		{"@@example.com", false},
	}
	for _, tc := range cases {
		_, ok := parseNetworkRule(tc.line, "src", now)
		assert.Equal(t, tc.ok, ok, tc.line)
	}

	_, ok := parseNetworkRule("||example.com^", "", now)
	assert.False(t, ok, "constructor errors drop the rule")
}

func TestParse_Dispatch(t *testing.T) {
	now := time.Now()
	logger := log.NewNoopLogger()

	got, err := Parse(domain.FormatHosts, strings.NewReader("0.0.0.0 ads.example.com\n"), "s", logger, now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].IsExact())

	got, err = Parse(domain.FormatPlain, strings.NewReader("*.ads.example.com\n"), "s", logger, now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].IsSuffix())

	got, err = Parse("", strings.NewReader("||ads.example.com^\n"), "s", logger, now)
	require.NoError(t, err)
	require.Len(t, got, 1)

	_, err = Parse("csv", strings.NewReader(""), "s", logger, now)
	assert.Error(t, err)
}
