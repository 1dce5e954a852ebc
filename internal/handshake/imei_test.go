package handshake

import (
	"testing"

	"github.com/telematics/avl-gateway/internal/framing"
)

func frameOf(b []byte) *framing.Buffer {
	buf := framing.New()
	_ = buf.Append(b)
	return buf
}

func TestTryParse_HappyLogin(t *testing.T) {
	// S1: 15-digit IMEI "353691841005134"
	buf := frameOf([]byte{0x00, 0x0F, '3', '5', '3', '6', '9', '1', '8', '4', '1', '0', '0', '5', '1', '3', '4'})
	result, imei, consumed, err := TryParse(buf)
	if err != nil || result != Frame {
		t.Fatalf("TryParse() = (%v, err=%v), want Frame", result, err)
	}
	if imei != "353691841005134" {
		t.Fatalf("imei = %q", imei)
	}
	if consumed != 17 {
		t.Fatalf("consumed = %d, want 17", consumed)
	}
}

func TestTryParse_NeedMore(t *testing.T) {
	buf := frameOf([]byte{0x00})
	result, _, _, err := TryParse(buf)
	if err != nil || result != NeedMore {
		t.Fatalf("TryParse() = (%v, err=%v), want NeedMore", result, err)
	}

	buf2 := frameOf([]byte{0x00, 0x0F, '1', '2', '3'})
	result2, _, _, err2 := TryParse(buf2)
	if err2 != nil || result2 != NeedMore {
		t.Fatalf("TryParse() partial payload = (%v, err=%v), want NeedMore", result2, err2)
	}
}

func TestTryParse_LengthBoundaries(t *testing.T) {
	cases := []struct {
		name   string
		length int
		want   Result
	}{
		{"14 digits rejected", 14, NotIMEI},
		{"15 digits accepted", 15, Frame},
		{"17 digits accepted", 17, Frame},
		{"18 digits rejected", 18, NotIMEI},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload := make([]byte, 2+tc.length)
			payload[0] = byte(tc.length >> 8)
			payload[1] = byte(tc.length)
			for i := 0; i < tc.length; i++ {
				payload[2+i] = '1'
			}
			result, _, _, err := TryParse(frameOf(payload))
			if result != tc.want {
				t.Fatalf("length %d: result = %v, want %v (err=%v)", tc.length, result, tc.want, err)
			}
		})
	}
}

func TestTryParse_Malformed(t *testing.T) {
	payload := []byte{0x00, 0x0F, '3', '5', '3', '6', '9', '1', 'X', '4', '1', '0', '0', '5', '1', '3', '4'}
	result, _, _, err := TryParse(frameOf(payload))
	if result != Malformed || err == nil {
		t.Fatalf("TryParse() = (%v, err=%v), want Malformed with error", result, err)
	}
}
