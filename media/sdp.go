package media

import "strings"

// stripRTX removes every "a=rtpmap:<pt> rtx/<clock>" line from an SDP
// body, along with the "a=fmtp:<pt>" and "a=rtcp-fb:<pt>" lines that
// reference the same payload type, then re-joins with CRLF and a
// trailing CRLF. Retransmission payloads are never useful to a server
// that is terminating media for inference rather than relaying it, and
// removing them avoids negotiating a codec path the terminus never
// answers on.
func stripRTX(sdp string) string {
	lines := splitSDPLines(sdp)
	rtxPayloadTypes := make(map[string]bool)
	for _, line := range lines {
		pt, ok := rtxPayloadType(line)
		if ok {
			rtxPayloadTypes[pt] = true
		}
	}
	if len(rtxPayloadTypes) == 0 {
		return sdp
	}

	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if pt, ok := rtxPayloadType(line); ok && rtxPayloadTypes[pt] {
			continue
		}
		if pt, ok := fmtpOrRTCPFBPayloadType(line); ok && rtxPayloadTypes[pt] {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\r\n") + "\r\n"
}

func splitSDPLines(sdp string) []string {
	normalized := strings.ReplaceAll(sdp, "\r\n", "\n")
	parts := strings.Split(normalized, "\n")
	lines := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimRight(p, "\r")
		if p == "" {
			continue
		}
		lines = append(lines, p)
	}
	return lines
}

// rtxPayloadType matches "a=rtpmap:<pt> rtx/<clock>" and returns <pt>.
func rtxPayloadType(line string) (string, bool) {
	const prefix = "a=rtpmap:"
	if !strings.HasPrefix(line, prefix) {
		return "", false
	}
	rest := line[len(prefix):]
	fields := strings.SplitN(rest, " ", 2)
	if len(fields) != 2 {
		return "", false
	}
	if !strings.HasPrefix(fields[1], "rtx/") {
		return "", false
	}
	return fields[0], true
}

// fmtpOrRTCPFBPayloadType matches "a=fmtp:<pt> ..." or
// "a=rtcp-fb:<pt> ..." and returns <pt>.
func fmtpOrRTCPFBPayloadType(line string) (string, bool) {
	for _, prefix := range []string{"a=fmtp:", "a=rtcp-fb:"} {
		if strings.HasPrefix(line, prefix) {
			rest := line[len(prefix):]
			fields := strings.SplitN(rest, " ", 2)
			if len(fields) >= 1 && fields[0] != "" {
				return fields[0], true
			}
		}
	}
	return "", false
}
