package hosts

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// Selection maps region -> domain -> enabled. An enabled domain must NOT
// be blocked.
type Selection map[string]map[string]bool

// Enabled reports the stored flag, defaulting to true.
func (s Selection) Enabled(region, domain string) bool {
	if v, ok := s[region][domain]; ok {
		return v
	}
	return true
}

// ParseSelection decodes the nested region/domain mapping. Values that are
// not booleans count as enabled; regions that are not objects are skipped.
func ParseSelection(data json.RawMessage) (Selection, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("%w: selection must be an object: %v", ErrInvalidRequest, err)
	}

	sel := make(Selection, len(top))
	for region, raw := range top {
		var domains map[string]json.RawMessage
		if err := json.Unmarshal(raw, &domains); err != nil || domains == nil {
			continue
		}
		m := make(map[string]bool, len(domains))
		for domain, v := range domains {
			enabled := true
			if err := json.Unmarshal(v, &enabled); err != nil {
				enabled = true
			}
			m[domain] = enabled
		}
		sel[region] = m
	}
	return sel, nil
}

type Report struct {
	Available bool
	Mismatch  bool
	Blocked   []string
	// Region and Domain name the first mismatching entry.
	Region  string
	Domain  string
	Message string
}

type Checker struct {
	store *Store
}

func NewChecker(store *Store) *Checker {
	return &Checker{store: store}
}

// Check compares the managed blocks against sel and stops at the first
// disagreement.
func (c *Checker) Check(ctx context.Context, sel Selection) Report {
	if err := ctx.Err(); err != nil {
		return Report{Message: err.Error()}
	}
	_, text, err := c.store.Read()
	if err != nil {
		return Report{Message: fmt.Sprintf("%v: %v", ErrUnavailable, err)}
	}
	return CheckText(text, sel)
}

// CheckText runs the comparison against already loaded hosts content.
func CheckText(text string, sel Selection) Report {
	blocked := ParseDocument(text).BlockedDomains()
	set := make(map[string]struct{}, len(blocked))
	for _, d := range blocked {
		set[d] = struct{}{}
	}

	rep := Report{Available: true, Blocked: blocked}

	regions := make([]string, 0, len(sel))
	for r := range sel {
		regions = append(regions, r)
	}
	sort.Strings(regions)

	for _, region := range regions {
		domains := make([]string, 0, len(sel[region]))
		for d := range sel[region] {
			domains = append(domains, d)
		}
		sort.Strings(domains)

		for _, domain := range domains {
			enabled := sel[region][domain]
			key := domain
			if n, err := NormalizeDomain(domain); err == nil {
				key = n
			}
			_, isBlocked := set[key]
			if isBlocked != !enabled {
				rep.Mismatch = true
				rep.Region = region
				rep.Domain = domain
				if isBlocked {
					rep.Message = fmt.Sprintf("%s (%s) is blocked in hosts but enabled in selection", domain, region)
				} else {
					rep.Message = fmt.Sprintf("%s (%s) is disabled in selection but not blocked in hosts", domain, region)
				}
				return rep
			}
		}
	}
	rep.Message = fmt.Sprintf("Hosts file matches selection (%d blocked domains)", len(blocked))
	return rep
}
