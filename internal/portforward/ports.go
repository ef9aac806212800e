package portforward

import (
	"strconv"
	"strings"
)

// portMapping is one parsed port-forward request: local is informational
// only (the server has no "local" side), remote is the in-container port
// to dial, and streamID is the base id (2i) its data stream uses.
type portMapping struct {
	local    int
	remote   int32
	streamID byte
}

// parsePorts parses the comma-separated `ports` query value: each item
// is `L:R` or bare `P` (equivalent to `P:P`). Malformed items are
// dropped; an empty effective list is the caller's signal to respond 400.
func parsePorts(raw string) []portMapping {
	var out []portMapping
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if len(out) >= 128 {
			// Stream ids are single bytes; 2*128 already exceeds the
			// space data streams alone can address, so stop early
			// rather than silently wrapping the id.
			break
		}
		var local, remote int
		if idx := strings.IndexByte(item, ':'); idx >= 0 {
			l, lerr := strconv.Atoi(item[:idx])
			r, rerr := strconv.Atoi(item[idx+1:])
			if lerr != nil || rerr != nil || l <= 0 || r <= 0 || r > 65535 {
				continue
			}
			local, remote = l, r
		} else {
			p, err := strconv.Atoi(item)
			if err != nil || p <= 0 || p > 65535 {
				continue
			}
			local, remote = p, p
		}
		// i indexes the parsed (post-filter) list, not the raw
		// comma-split position, so a dropped malformed item never
		// skips an id.
		i := len(out)
		out = append(out, portMapping{
			local:    local,
			remote:   int32(remote),
			streamID: byte(2 * i),
		})
	}
	return out
}
