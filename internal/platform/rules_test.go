package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitFamilies(t *testing.T) {
	v4, v6, err := splitFamilies([]string{"192.0.2.1", "2001:db8::1", " 198.51.100.2 "})
	require.NoError(t, err)
	assert.Equal(t, []string{"192.0.2.1", "198.51.100.2"}, v4)
	assert.Equal(t, []string{"2001:db8::1"}, v6)

	_, _, err = splitFamilies([]string{"not-an-ip"})
	assert.Error(t, err)
}

func TestParseIPTablesRule(t *testing.T) {
	tests := []struct {
		line    string
		spec    []string
		comment string
		ok      bool
	}{
		{
			line:    "-A CLUSTERBANNED -d 192.0.2.1/32 -m comment --comment ClusterBanned_a_example_com -j DROP",
			spec:    []string{"-d", "192.0.2.1/32", "-m", "comment", "--comment", "ClusterBanned_a_example_com", "-j", "DROP"},
			comment: "ClusterBanned_a_example_com",
			ok:      true,
		},
		{
			line:    `-A CLUSTERBANNED -d 192.0.2.2/32 -m comment --comment "quoted" -j DROP`,
			spec:    []string{"-d", "192.0.2.2/32", "-m", "comment", "--comment", "quoted", "-j", "DROP"},
			comment: "quoted",
			ok:      true,
		},
		{line: "-N CLUSTERBANNED"},
		{line: "-A OUTPUT -j CLUSTERBANNED"},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			spec, comment, ok := parseIPTablesRule(tt.line, "CLUSTERBANNED")
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.spec, spec)
			assert.Equal(t, tt.comment, comment)
		})
	}
}

func TestParseNetshRuleNames(t *testing.T) {
	out := "\r\n" +
		"Rule Name:                            ClusterBanned_b_example_com\r\n" +
		"----------------------------------------------------------------------\r\n" +
		"Enabled:                              Yes\r\n" +
		"Direction:                            Out\r\n" +
		"RemoteIP:                             192.0.2.1/32\r\n" +
		"\r\n" +
		"Rule Name:                            Core Networking - DNS (UDP-Out)\r\n" +
		"Rule Name:                            ClusterBanned_a_example_com\r\n" +
		"Rule Name:                            ClusterBanned_a_example_com\r\n" +
		"Ok.\r\n"

	assert.Equal(t, []string{"ClusterBanned_a_example_com", "ClusterBanned_b_example_com"}, parseNetshRuleNames(out, "ClusterBanned"))
	assert.Empty(t, parseNetshRuleNames(out, "WoT_Block"))
}

func TestParsePFAnchors(t *testing.T) {
	out := "  clusterbanned/ClusterBanned_b_example_com\n  clusterbanned/ClusterBanned_a_example_com\n  clusterbanned/other\n"
	assert.Equal(t, []string{"ClusterBanned_a_example_com", "ClusterBanned_b_example_com"}, parsePFAnchors(out, "clusterbanned", "ClusterBanned"))
}

func TestRuleMetric(t *testing.T) {
	a := ruleMetric("ClusterBanned_a_example_com")
	assert.Equal(t, a, ruleMetric("ClusterBanned_a_example_com"))
	assert.NotEqual(t, a, ruleMetric("ClusterBanned_b_example_com"))
	assert.GreaterOrEqual(t, a, 0x10000)

	assert.Equal(t, a, ruleMetric(metricRuleName("ClusterBanned", a)))
	assert.Equal(t, "ClusterBanned@metric70000", metricRuleName("ClusterBanned", 70000))
}
