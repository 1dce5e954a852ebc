// Package session implements the Connection Session: the per-socket
// state machine that authenticates a device, decodes AVL frames, and
// dispatches records to the Movement Tracker and Repository in order.
//
// Grounded on cmd/tcp-server's handleConnection (the read-into-buffer
// loop, per-connection deadline reset, structured per-session logging),
// generalized from its global `sessions` map plus bespoke DeviceSession
// struct into an owned, registry-mediated component with no pointer
// back into the registry.
package session

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"os"
	"time"

	"github.com/gofrs/uuid"
	"github.com/sirupsen/logrus"

	"github.com/telematics/avl-gateway/internal/avl"
	"github.com/telematics/avl-gateway/internal/framing"
	"github.com/telematics/avl-gateway/internal/handshake"
	"github.com/telematics/avl-gateway/internal/movement"
	"github.com/telematics/avl-gateway/internal/registry"
	"github.com/telematics/avl-gateway/internal/repository"
)

type state int

const (
	awaitingImei state = iota
	authenticated
)

// Config bundles the tunables a Session needs, sourced from
// internal/config.
type Config struct {
	IdleTimeout     time.Duration
	RateLimitPerMin int
	RateLimitWindow time.Duration
	AvlOptions      avl.Options
	MovementOptions movement.Options
	StoreRetries    int
	StoreBackoff    time.Duration
	StoreTimeout    time.Duration
}

// DefaultConfig returns the gateway's default session tunables.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:     5 * time.Minute,
		RateLimitPerMin: 60,
		RateLimitWindow: time.Minute,
		AvlOptions:      avl.DefaultOptions(),
		MovementOptions: movement.DefaultOptions(),
		StoreRetries:    3,
		StoreBackoff:    time.Second,
		StoreTimeout:    5 * time.Second,
	}
}

// Session owns one accepted socket end to end.
type Session struct {
	conn net.Conn
	cfg  Config
	reg  *registry.Registry
	repo repository.Port
	log  *logrus.Entry

	buf   *framing.Buffer
	state state
	imei  string
	token uuid.UUID

	rate    *slidingWindowLimiter
	tracker *movement.Tracker

	bytesThisConn    uint64
	packetsThisConn  uint64
}

// New builds a Session for a freshly accepted connection. Call Run to
// drive its read loop; Run blocks until the session terminates.
func New(conn net.Conn, cfg Config, reg *registry.Registry, repo repository.Port, log *logrus.Logger) *Session {
	if log == nil {
		log = logrus.New()
	}
	buf := framing.New()
	buf.MaxSize = cfg.AvlOptions.MaxBufferBytes

	return &Session{
		conn: conn,
		cfg:  cfg,
		reg:  reg,
		repo: repo,
		log:  log.WithField("peer", conn.RemoteAddr().String()),
		buf:  buf,
		rate: newSlidingWindowLimiter(cfg.RateLimitPerMin, cfg.RateLimitWindow),
	}
}

// Run drives the session's wire discipline until the connection
// terminates for any reason. It always performs teardown (registry
// removal, tracker finalize) before returning.
func (s *Session) Run(ctx context.Context) error {
	defer s.teardown(ctx)

	if tcp, ok := s.conn.(*net.TCPConn); ok {
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetKeepAlivePeriod(60 * time.Second)
		_ = tcp.SetNoDelay(true)
	}

	readBuf := make([]byte, 4096)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout)); err != nil {
			return err
		}

		n, err := s.conn.Read(readBuf)
		if n > 0 {
			if appendErr := s.buf.Append(readBuf[:n]); appendErr != nil {
				s.log.WithError(appendErr).Warn("framing buffer overflow")
				return ErrBufferOverflow
			}
			s.bytesThisConn += uint64(n)

			if dispatchErr := s.drain(ctx); dispatchErr != nil {
				return dispatchErr
			}
		}

		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) || isTimeout(err) {
				s.log.Info("idle timeout")
				return ErrIdleTimeout
			}
			if err == io.EOF {
				s.log.Info("client disconnected")
				return nil
			}
			return err
		}
	}
}

// drain processes every complete frame currently sitting in the buffer,
// per state, until NeedMore. This is the "at most one decode/dispatch
// chain in flight" serialization point: drain runs to completion before
// the next conn.Read is issued.
func (s *Session) drain(ctx context.Context) error {
	if s.state == awaitingImei {
		result, digits, consumed, err := handshake.TryParse(s.buf)
		switch result {
		case handshake.NeedMore:
			return nil
		case handshake.Frame:
			s.buf.Drop(consumed)
			if err := s.authenticate(ctx, digits); err != nil {
				return err
			}
			// fall through to AVL parsing on any residue already in buf
		case handshake.NotIMEI, handshake.Malformed:
			s.log.WithError(err).Warn("bad IMEI handshake")
			return ErrBadHandshake
		}
	}

	for {
		result, records, consumed, err := avl.TryParse(s.buf.Bytes(), s.cfg.AvlOptions)
		switch result {
		case avl.NeedMore:
			return nil
		case avl.Resync:
			s.buf.Drop(consumed)
			continue
		case avl.Malformed:
			s.buf.Drop(consumed)
			s.log.WithError(err).Warn("malformed AVL frame")
			return ErrProtocolError
		case avl.Frame:
			if err != nil && avl.IsCRCMismatch(err) {
				s.log.WithError(err).Debug("CRC mismatch (non-fatal)")
			}
			s.buf.Drop(consumed)
			if procErr := s.processFrame(ctx, records); procErr != nil {
				return procErr
			}
		}
	}
}

func (s *Session) authenticate(ctx context.Context, digits string) error {
	ref, err := s.repo.LookupDevice(ctx, digits)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.log.WithField("imei", digits).Warn("unknown device")
			return ErrUnknownDevice
		}
		return err
	}

	token, regErr := s.reg.Register(digits, s.conn.RemoteAddr().String(), func() { s.conn.Close() })
	if regErr != nil {
		var already *registry.ErrAlreadyConnected
		if !errors.As(regErr, &already) {
			return regErr
		}
		// Replace policy: the previous session was already signaled to
		// close by Register itself; this one proceeds.
	}

	s.imei = digits
	s.token = token
	s.state = authenticated
	s.tracker = movement.New(s.repo, ref, s.cfg.MovementOptions, nil)

	if _, err := s.conn.Write([]byte{0x01}); err != nil {
		return ErrSocketWrite
	}

	s.log.WithField("imei", digits).Info("device authenticated")
	return nil
}

func (s *Session) processFrame(ctx context.Context, records []avl.Record) error {
	now := time.Now()
	if !s.rate.Allow(now) {
		s.log.Warn("rate limit exceeded, dropping frame")
		return s.writeAck(0)
	}

	ref := repository.DeviceRef{DeviceID: s.imei}

	for _, rec := range records {
		input := movement.RecordInput{
			Timestamp:    rec.Timestamp(),
			Latitude:     rec.GPS.Latitude(),
			Longitude:    rec.GPS.Longitude(),
			HasPosition:  rec.HasValidCoordinates(),
			MovementFlag: rec.MovementFlag,
			SpeedKmh:     float64(rec.GPS.SpeedKmh),
		}

		if err := s.withRetry(ctx, func(ctx context.Context) error {
			return s.tracker.HandleRecord(ctx, input)
		}); err != nil {
			s.log.WithError(err).Error("movement tracker update failed, dropping record")
			continue
		}

		normalized := repository.NormalizedRecord{
			DeviceID:    s.imei,
			Timestamp:   rec.Timestamp(),
			Latitude:    rec.GPS.Latitude(),
			Longitude:   rec.GPS.Longitude(),
			SpeedKmh:    float64(rec.GPS.SpeedKmh),
			HasPosition: rec.HasValidCoordinates(),
			ExtraIO:     rec.ExtraIO,
		}

		if err := s.withRetry(ctx, func(ctx context.Context) error {
			return s.repo.AppendRecord(ctx, ref, normalized)
		}); err != nil {
			s.log.WithError(err).Error("append record failed after retries, dropping")
		}
	}

	s.packetsThisConn += uint64(len(records))
	s.reg.Touch(s.imei, 0, uint64(len(records)))

	return s.writeAck(uint32(len(records)))
}

func (s *Session) writeAck(n uint32) error {
	ack := make([]byte, 4)
	binary.BigEndian.PutUint32(ack, n)
	if _, err := s.conn.Write(ack); err != nil {
		return ErrSocketWrite
	}
	return nil
}

// withRetry makes one attempt plus up to cfg.StoreRetries retries of a
// Repository call, with a fixed backoff between attempts.
func (s *Session) withRetry(ctx context.Context, fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt <= s.cfg.StoreRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
		err = fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		if attempt < s.cfg.StoreRetries {
			time.Sleep(s.cfg.StoreBackoff)
		}
	}
	return err
}

func (s *Session) teardown(ctx context.Context) {
	if s.state == authenticated {
		s.reg.Unregister(s.imei, s.token)
		if s.tracker != nil {
			finalizeCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := s.tracker.Finalize(finalizeCtx); err != nil {
				s.log.WithError(err).Warn("tracker finalize failed")
			}
		}
	}
	s.conn.Close()
}

// Close closes the underlying socket directly, used by the Listener
// during graceful shutdown to unblock a session's Read without waiting
// for its idle timeout.
func (s *Session) Close() {
	s.conn.Close()
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
