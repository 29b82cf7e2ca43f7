package manager

import (
	"fmt"
	"regexp"
	"strconv"

	"gatewayd/pkg/types"
)

// splitModelRe matches part ids of the form "name-K-of-N".
var splitModelRe = regexp.MustCompile(`^(.*)-(\d+)-of-(\d+)$`)

// statusRank orders load states most-permissive first: a group with
// any loaded part presents as loaded, any loading part as loading,
// and so on.
var statusRank = map[string]int{
	types.StatusLoaded:    4,
	types.StatusLoading:   3,
	types.StatusUnloading: 2,
	types.StatusUnloaded:  1,
	types.StatusUnknown:   0,
}

// PartCount reports how many physical parts a collapsed entry covers;
// 1 for unsplit models.
func PartCount(entries []types.ModelEntry, id string) int {
	n := 0
	for _, e := range entries {
		base, _, total, ok := splitParts(e.ID)
		if ok && base == id && total > 1 {
			n++
		}
	}
	if n == 0 {
		return 1
	}
	return n
}

func splitParts(id string) (base string, part, total int, ok bool) {
	m := splitModelRe.FindStringSubmatch(id)
	if m == nil {
		return "", 0, 0, false
	}
	part, _ = strconv.Atoi(m[2])
	total, _ = strconv.Atoi(m[3])
	if total < 2 || part < 1 || part > total {
		return "", 0, 0, false
	}
	return m[1], part, total, true
}

// Collapse folds split-model parts into one logical entry per
// (base, N) group. Status is most-permissive-wins across the group
// and the group is failed if any part failed. Entry order follows
// first appearance.
func Collapse(entries []types.ModelEntry) []types.ModelEntry {
	out := make([]types.ModelEntry, 0, len(entries))
	index := map[string]int{}
	for _, e := range entries {
		base, _, total, ok := splitParts(e.ID)
		if !ok {
			out = append(out, e)
			continue
		}
		key := fmt.Sprintf("%s#%d", base, total)
		i, seen := index[key]
		if !seen {
			merged := e
			merged.ID = base
			index[key] = len(out)
			out = append(out, merged)
			continue
		}
		cur := &out[i]
		if statusRank[e.Status.Value] > statusRank[cur.Status.Value] {
			cur.Status.Value = e.Status.Value
		}
		if e.Status.Failed {
			cur.Status.Failed = true
		}
	}
	return out
}
