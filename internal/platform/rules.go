package platform

import (
	"bufio"
	"fmt"
	"hash/fnv"
	"net"
	"sort"
	"strconv"
	"strings"
)

// splitFamilies separates IPv4 from IPv6 addresses.
func splitFamilies(ips []string) (v4, v6 []string, err error) {
	for _, s := range ips {
		ip := net.ParseIP(strings.TrimSpace(s))
		if ip == nil {
			return nil, nil, fmt.Errorf("invalid IP address: %s", s)
		}
		if ip.To4() != nil {
			v4 = append(v4, ip.String())
		} else {
			v6 = append(v6, ip.String())
		}
	}
	return v4, v6, nil
}

// parseIPTablesRule splits an `iptables -S` line of chain into the rule
// spec accepted by Delete and the value of its comment match.
func parseIPTablesRule(line, chain string) (spec []string, comment string, ok bool) {
	prefix := "-A " + chain + " "
	if !strings.HasPrefix(line, prefix) {
		return nil, "", false
	}
	fields := strings.Fields(strings.TrimPrefix(line, prefix))
	for i, f := range fields {
		fields[i] = strings.Trim(f, `"`)
		if i > 0 && fields[i-1] == "--comment" {
			comment = fields[i]
		}
	}
	return fields, comment, true
}

// parseNetshRuleNames extracts rule names from `netsh advfirewall firewall
// show rule` output.
func parseNetshRuleNames(output, prefix string) []string {
	seen := make(map[string]bool)
	var names []string
	sc := bufio.NewScanner(strings.NewReader(output))
	for sc.Scan() {
		key, value, found := strings.Cut(sc.Text(), ":")
		if !found || strings.TrimSpace(key) != "Rule Name" {
			continue
		}
		name := strings.TrimSpace(value)
		if strings.HasPrefix(name, prefix) && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// parsePFAnchors extracts child anchor names below parent from
// `pfctl -a <parent> -s Anchors` output.
func parsePFAnchors(output, parent, prefix string) []string {
	var names []string
	sc := bufio.NewScanner(strings.NewReader(output))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		name, found := strings.CutPrefix(line, parent+"/")
		if !found || !strings.HasPrefix(name, prefix) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const metricTag = "@metric"

// ruleMetric maps a rule name onto a route metric. Names returned by the
// route backend's listing carry their metric verbatim.
func ruleMetric(name string) int {
	if i := strings.LastIndex(name, metricTag); i >= 0 {
		if n, err := strconv.Atoi(name[i+len(metricTag):]); err == nil && n > 0 {
			return n
		}
	}
	h := fnv.New32a()
	h.Write([]byte(name))
	// Keep clear of metric 0 and of the low values distributions use.
	return int(h.Sum32()%0x7fff0000) + 0x10000
}

func metricRuleName(prefix string, metric int) string {
	return prefix + metricTag + strconv.Itoa(metric)
}
