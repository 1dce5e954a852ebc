package session

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telematics/avl-gateway/internal/registry"
	"github.com/telematics/avl-gateway/internal/repository/memrepo"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.IdleTimeout = 2 * time.Second
	cfg.StoreBackoff = 10 * time.Millisecond
	cfg.StoreTimeout = time.Second
	return cfg
}

func readExactly(t *testing.T, conn net.Conn, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := readFull(conn, buf)
	require.NoError(t, err)
	return buf
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestSession_HappyLogin(t *testing.T) {
	store := memrepo.New()
	store.Seed("353691841005134")
	reg := registry.New(nil)

	client, server := net.Pipe()
	defer client.Close()

	sess := New(server, testConfig(), reg, store, nil)
	done := make(chan error, 1)
	go func() { done <- sess.Run(context.Background()) }()

	loginHex := "000F333533363931383431303035313334"
	loginBytes, err := hex.DecodeString(loginHex)
	require.NoError(t, err)

	_, err = client.Write(loginBytes)
	require.NoError(t, err)

	ack := readExactly(t, client, 1)
	assert.Equal(t, []byte{0x01}, ack)

	assert.Equal(t, 1, reg.Len())

	client.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate after client close")
	}
}

func TestSession_UnknownDeviceClosesSilently(t *testing.T) {
	store := memrepo.New() // no device seeded
	reg := registry.New(nil)

	client, server := net.Pipe()
	defer client.Close()

	sess := New(server, testConfig(), reg, store, nil)
	done := make(chan error, 1)
	go func() { done <- sess.Run(context.Background()) }()

	loginHex := "000F313233343536373839303132333435"
	loginBytes, _ := hex.DecodeString(loginHex)
	_, err := client.Write(loginBytes)
	require.NoError(t, err)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrUnknownDevice)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not close for unknown device")
	}

	assert.Equal(t, 0, reg.Len())
}

func TestSession_AvlFrameAfterLogin_Acks(t *testing.T) {
	store := memrepo.New()
	store.Seed("353691841005134")
	reg := registry.New(nil)

	client, server := net.Pipe()
	defer client.Close()

	sess := New(server, testConfig(), reg, store, nil)
	done := make(chan error, 1)
	go func() { done <- sess.Run(context.Background()) }()

	loginBytes, _ := hex.DecodeString("000F333533363931383431303035313334")
	_, err := client.Write(loginBytes)
	require.NoError(t, err)
	readExactly(t, client, 1) // login ack

	frame := buildSingleRecordFrame(t)
	_, err = client.Write(frame)
	require.NoError(t, err)

	ackBytes := readExactly(t, client, 4)
	assert.Equal(t, uint32(1), binary.BigEndian.Uint32(ackBytes))

	client.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate after client close")
	}
}

func TestSession_SplitFrameAcrossWrites(t *testing.T) {
	store := memrepo.New()
	store.Seed("353691841005134")
	reg := registry.New(nil)

	client, server := net.Pipe()
	defer client.Close()

	sess := New(server, testConfig(), reg, store, nil)
	done := make(chan error, 1)
	go func() { done <- sess.Run(context.Background()) }()

	loginBytes, _ := hex.DecodeString("000F333533363931383431303035313334")
	_, err := client.Write(loginBytes)
	require.NoError(t, err)
	readExactly(t, client, 1)

	frame := buildSingleRecordFrame(t)
	half := len(frame) / 2

	go func() {
		client.Write(frame[:half])
		time.Sleep(20 * time.Millisecond)
		client.Write(frame[half:])
	}()

	ackBytes := readExactly(t, client, 4)
	assert.Equal(t, uint32(1), binary.BigEndian.Uint32(ackBytes))

	client.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate after client close")
	}
}

// buildSingleRecordFrame builds a minimal, CRC-correct Codec 8 frame with
// one record and no IO elements, mirroring the shape of S3 but without
// relying on avl's internal test helpers (different package).
func buildSingleRecordFrame(t *testing.T) []byte {
	t.Helper()

	record := []byte{}
	record = append(record, be64(1700000000000)...) // timestamp
	record = append(record, 1)                       // priority
	record = append(record, be32(uint32(250000000))...)
	record = append(record, be32(uint32(545000000))...)
	record = append(record, be16(120)...)
	record = append(record, be16(90)...)
	record = append(record, 8)
	record = append(record, be16(45)...)
	record = append(record, 0)    // eventIoId
	record = append(record, 0)    // total IO count
	record = append(record, 0)    // 1-byte group count
	record = append(record, 0)    // 2-byte group count
	record = append(record, 0)    // 4-byte group count
	record = append(record, 0)    // 8-byte group count

	body := []byte{0x08, 0x01}
	body = append(body, record...)
	body = append(body, 0x01)

	frame := []byte{0, 0, 0, 0}
	frame = append(frame, be32(uint32(len(body)))...)
	frame = append(frame, body...)
	frame = append(frame, be32(uint32(crc16ibm(body)))...)
	return frame
}

func be16(v uint16) []byte { return []byte{byte(v >> 8), byte(v)} }
func be32(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}
func be64(v int64) []byte {
	b := make([]byte, 8)
	uv := uint64(v)
	for i := 7; i >= 0; i-- {
		b[i] = byte(uv)
		uv >>= 8
	}
	return b
}

// crc16ibm duplicates internal/wire.CalculateCRC16IBM locally so this
// test doesn't need to import the wire package just for one checksum.
func crc16ibm(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}
