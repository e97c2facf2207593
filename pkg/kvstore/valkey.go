package kvstore

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// Valkey implements Store against a Valkey/Redis-compatible server using a
// small RESP client. Connections are dialed per command and retried on
// transient network errors; the service issues only a handful of small
// commands per evaluation cycle.
type Valkey struct {
	cfg ValkeyConfig
}

// ValkeyConfig holds connection parameters for the Valkey server.
type ValkeyConfig struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxRetries   int
	TLS          bool
}

func (c *ValkeyConfig) normalise() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 2 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 500 * time.Millisecond
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 500 * time.Millisecond
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 1
	}
}

// NewValkey builds a Store over the configured server and pings it once so
// bad credentials or connectivity fail at startup rather than mid-cycle.
func NewValkey(cfg ValkeyConfig) (*Valkey, error) {
	if cfg.Addr == "" {
		return nil, errors.New("kvstore: valkey addr is required")
	}
	cfg.normalise()
	v := &Valkey{cfg: cfg}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	reply, err := v.do(ctx, "PING")
	if err != nil {
		return nil, err
	}
	if reply.kind != kindSimple || string(reply.data) != "PONG" {
		return nil, fmt.Errorf("kvstore: unexpected PING reply %q", reply.data)
	}
	return v, nil
}

func (v *Valkey) Get(ctx context.Context, key string) ([]byte, error) {
	reply, err := v.do(ctx, "GET", key)
	if err != nil {
		return nil, err
	}
	switch reply.kind {
	case kindNil:
		return nil, ErrNotFound
	case kindBulk:
		return reply.data, nil
	default:
		return nil, fmt.Errorf("kvstore: unexpected GET reply kind %q", reply.kind)
	}
}

func (v *Valkey) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	args := setArgs(key, value, ttl, false)
	reply, err := v.do(ctx, args...)
	if err != nil {
		return err
	}
	if reply.kind != kindSimple || !strings.EqualFold(string(reply.data), "OK") {
		return fmt.Errorf("kvstore: unexpected SET reply %q", reply.data)
	}
	return nil
}

func (v *Valkey) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	reply, err := v.do(ctx, setArgs(key, value, ttl, true)...)
	if err != nil {
		return false, err
	}
	switch reply.kind {
	case kindSimple:
		return true, nil
	case kindNil:
		return false, nil
	default:
		return false, fmt.Errorf("kvstore: unexpected SET NX reply kind %q", reply.kind)
	}
}

func (v *Valkey) Del(ctx context.Context, key string) error {
	_, err := v.do(ctx, "DEL", key)
	return err
}

// Close is a no-op; connections are per command.
func (v *Valkey) Close() error { return nil }

func setArgs(key string, value []byte, ttl time.Duration, nx bool) []string {
	args := []string{"SET", key, string(value)}
	if ttl > 0 {
		args = append(args, "PX", strconv.FormatInt(ttl.Milliseconds(), 10))
	}
	if nx {
		args = append(args, "NX")
	}
	return args
}

// do dials, authenticates, runs a single command and reads its reply,
// retrying transient network failures with exponential backoff.
func (v *Valkey) do(ctx context.Context, args ...string) (respReply, error) {
	var lastErr error
	for attempt := 0; attempt < v.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return respReply{}, err
		}
		reply, err := v.exec(ctx, args)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		if !retryable(err) || attempt == v.cfg.MaxRetries-1 {
			return respReply{}, err
		}
		time.Sleep(time.Duration(1<<attempt) * 25 * time.Millisecond)
	}
	return respReply{}, lastErr
}

func (v *Valkey) exec(ctx context.Context, args []string) (respReply, error) {
	conn, err := v.dial(ctx)
	if err != nil {
		return respReply{}, err
	}
	defer conn.close()

	if err := v.handshake(conn); err != nil {
		return respReply{}, err
	}
	if err := conn.writeCommand(args); err != nil {
		return respReply{}, err
	}
	return conn.readReply()
}

func (v *Valkey) dial(ctx context.Context) (*respConn, error) {
	dialer := net.Dialer{Timeout: dialBudget(ctx, v.cfg.DialTimeout)}
	var (
		nc  net.Conn
		err error
	)
	if v.cfg.TLS {
		host := v.cfg.Addr
		if h, _, splitErr := net.SplitHostPort(v.cfg.Addr); splitErr == nil {
			host = h
		}
		nc, err = tls.DialWithDialer(&dialer, "tcp", v.cfg.Addr, &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: host,
		})
	} else {
		nc, err = dialer.DialContext(ctx, "tcp", v.cfg.Addr)
	}
	if err != nil {
		return nil, err
	}
	return &respConn{
		conn:         nc,
		reader:       bufio.NewReader(nc),
		writer:       bufio.NewWriter(nc),
		readTimeout:  v.cfg.ReadTimeout,
		writeTimeout: v.cfg.WriteTimeout,
	}, nil
}

func (v *Valkey) handshake(conn *respConn) error {
	if v.cfg.Password != "" {
		auth := []string{"AUTH"}
		if v.cfg.Username != "" {
			auth = append(auth, v.cfg.Username)
		}
		auth = append(auth, v.cfg.Password)
		if err := expectOK(conn, auth); err != nil {
			return fmt.Errorf("kvstore: auth: %w", err)
		}
	}
	if v.cfg.DB > 0 {
		if err := expectOK(conn, []string{"SELECT", strconv.Itoa(v.cfg.DB)}); err != nil {
			return fmt.Errorf("kvstore: select db %d: %w", v.cfg.DB, err)
		}
	}
	return nil
}

func expectOK(conn *respConn, args []string) error {
	if err := conn.writeCommand(args); err != nil {
		return err
	}
	reply, err := conn.readReply()
	if err != nil {
		return err
	}
	if reply.kind != kindSimple || !strings.EqualFold(string(reply.data), "OK") {
		return fmt.Errorf("unexpected reply %q", reply.data)
	}
	return nil
}

type replyKind byte

const (
	kindSimple replyKind = '+'
	kindBulk   replyKind = '$'
	kindInt    replyKind = ':'
	kindNil    replyKind = '_'
)

type respReply struct {
	kind replyKind
	data []byte
}

type respConn struct {
	conn         net.Conn
	reader       *bufio.Reader
	writer       *bufio.Writer
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func (c *respConn) close() { _ = c.conn.Close() }

func (c *respConn) writeCommand(args []string) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	fmt.Fprintf(c.writer, "*%d\r\n", len(args))
	for _, arg := range args {
		fmt.Fprintf(c.writer, "$%d\r\n%s\r\n", len(arg), arg)
	}
	return c.writer.Flush()
}

func (c *respConn) readReply() (respReply, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
		return respReply{}, err
	}
	prefix, err := c.reader.ReadByte()
	if err != nil {
		return respReply{}, err
	}
	switch prefix {
	case '+':
		line, err := c.readLine()
		return respReply{kind: kindSimple, data: line}, err
	case ':':
		line, err := c.readLine()
		return respReply{kind: kindInt, data: line}, err
	case '-':
		line, err := c.readLine()
		if err != nil {
			return respReply{}, err
		}
		return respReply{}, errors.New(string(line))
	case '$':
		line, err := c.readLine()
		if err != nil {
			return respReply{}, err
		}
		size, err := strconv.Atoi(string(line))
		if err != nil {
			return respReply{}, err
		}
		if size < 0 {
			return respReply{kind: kindNil}, nil
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(c.reader, buf); err != nil {
			return respReply{}, err
		}
		if buf[size] != '\r' || buf[size+1] != '\n' {
			return respReply{}, errors.New("kvstore: malformed bulk string terminator")
		}
		return respReply{kind: kindBulk, data: buf[:size]}, nil
	default:
		return respReply{}, fmt.Errorf("kvstore: unexpected RESP prefix %q", prefix)
	}
}

func (c *respConn) readLine() ([]byte, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}

func retryable(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func dialBudget(ctx context.Context, fallback time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && remaining < fallback {
			return remaining
		}
	}
	return fallback
}
