package media

import (
	"strings"
	"testing"
)

func TestStripRTXRemovesRtpmapFmtpAndRtcpFb(t *testing.T) {
	sdp := "v=0\r\n" +
		"m=video 9 UDP/TLS/RTP/SAVPF 96 97\r\n" +
		"a=rtpmap:96 VP8/90000\r\n" +
		"a=rtpmap:97 rtx/90000\r\n" +
		"a=fmtp:97 apt=96\r\n" +
		"a=rtcp-fb:97 nack\r\n" +
		"a=rtcp-fb:96 nack pli\r\n"

	got := stripRTX(sdp)
	for _, unwanted := range []string{"rtx/90000", "fmtp:97", "rtcp-fb:97"} {
		if strings.Contains(got, unwanted) {
			t.Fatalf("expected %q to be stripped, got:\n%s", unwanted, got)
		}
	}
	if !strings.Contains(got, "rtpmap:96 VP8/90000") || !strings.Contains(got, "rtcp-fb:96 nack pli") {
		t.Fatalf("expected non-rtx lines to survive, got:\n%s", got)
	}
}

func TestStripRTXNoOpWhenAbsent(t *testing.T) {
	sdp := "v=0\r\nm=audio 9 UDP/TLS/RTP/SAVPF 111\r\na=rtpmap:111 opus/48000/2\r\n"
	got := stripRTX(sdp)
	if got != sdp {
		t.Fatalf("expected no-op, got:\n%s", got)
	}
}
