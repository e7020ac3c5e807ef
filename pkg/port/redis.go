// memo speaks a subset of the Redis protocol so existing Redis clients and tools (redis-cli, redis-benchmark) can use
// it. Only plain string keys are supported; there are no lists, hashes or pub / sub.

package port

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/nobletooth/memo/pkg/cache"
	"github.com/nobletooth/memo/pkg/scan"
	"github.com/nobletooth/memo/pkg/utils"
	"github.com/tidwall/redcon"
)

const RedisOk = "OK"

var redisAddress = flag.String("redis_address", ":6380", "The ip:port to listen on for Redis protocol.")

// redisCommand represents a Redis command with its arguments.
type redisCommand struct {
	command string
	args    []string
}

type redisReplyKind uint8

const (
	redisReplyString redisReplyKind = iota // Simple string, e.g. +OK.
	redisReplyBulk
	redisReplyNil
	redisReplyInt
	redisReplyError
	redisReplyArray // Array of bulk strings.
)

// redisOutput conforms to a real Redis server output on non pub / sub commands.
type redisOutput struct {
	kind            redisReplyKind
	closeConnection bool // Closes the connection after writing if true.
	str             string
	bulk            []byte
	integer         int
	array           []string
}

func closeRedisConnection(msg string) redisOutput {
	return redisOutput{kind: redisReplyString, str: msg, closeConnection: true}
}

func writeRedisNil() redisOutput {
	return redisOutput{kind: redisReplyNil}
}

func writeRedisInt(i int) redisOutput {
	return redisOutput{kind: redisReplyInt, integer: i}
}

func writeRedisString(s string) redisOutput {
	return redisOutput{kind: redisReplyString, str: s}
}

func writeRedisBulk(b []byte) redisOutput {
	return redisOutput{kind: redisReplyBulk, bulk: b}
}

func writeRedisArray(items []string) redisOutput {
	return redisOutput{kind: redisReplyArray, array: items}
}

func writeRedisError(msg string) redisOutput {
	return redisOutput{kind: redisReplyError, str: "ERR " + msg}
}

func wrongArity(command string) redisOutput {
	return writeRedisError(fmt.Sprintf("wrong number of arguments for '%s' command", strings.ToLower(command)))
}

// redisWriter is the part of redcon.Conn used to write replies.
type redisWriter interface {
	WriteString(str string)
	WriteBulk(bulk []byte)
	WriteBulkString(bulk string)
	WriteInt(num int)
	WriteNull()
	WriteError(msg string)
	WriteArray(count int)
}

// writeRedisOutput serializes `output` on `w`.
func writeRedisOutput(w redisWriter, output redisOutput) {
	switch output.kind {
	case redisReplyString:
		w.WriteString(output.str)
	case redisReplyBulk:
		w.WriteBulk(output.bulk)
	case redisReplyNil:
		w.WriteNull()
	case redisReplyInt:
		w.WriteInt(output.integer)
	case redisReplyError:
		w.WriteError(output.str)
	case redisReplyArray:
		w.WriteArray(len(output.array))
		for _, item := range output.array {
			w.WriteBulkString(item)
		}
	}
}

type redisHandler struct {
	store cache.Layer[string, []byte]
}

// newRedisHandler creates a new redisHandler.
func newRedisHandler(store cache.Layer[string, []byte]) (*redisHandler, error) {
	if store == nil {
		return nil, errors.New("expected a non-nil store")
	}
	return &redisHandler{store: store}, nil
}

// parseSetTTL parses the `[EX seconds | PX milliseconds]` tail of a SET command. Zero means the default TTL.
func parseSetTTL(options []string) (time.Duration, *redisOutput) {
	invalidExpire := writeRedisError("invalid expire time in 'set' command")
	syntaxErr := writeRedisError("syntax error")
	if len(options) == 0 {
		return 0, nil
	}
	if len(options) != 2 {
		return 0, &syntaxErr
	}
	var unit time.Duration
	switch strings.ToUpper(options[0]) {
	case "EX":
		unit = time.Second
	case "PX":
		unit = time.Millisecond
	default:
		return 0, &syntaxErr
	}
	amount, err := strconv.ParseInt(options[1], 10, 64)
	if err != nil || amount <= 0 || amount > math.MaxInt64/int64(unit) {
		return 0, &invalidExpire
	}
	return time.Duration(amount) * unit, nil
}

func (rh *redisHandler) info() string {
	stats := rh.store.Stats()
	var builder strings.Builder
	builder.WriteString("# Server\r\n")
	fmt.Fprintf(&builder, "memo_version:%s\r\n", utils.Version)
	fmt.Fprintf(&builder, "uptime_in_seconds:%d\r\n", int64(utils.Uptime().Seconds()))
	builder.WriteString("\r\n# Stats\r\n")
	fmt.Fprintf(&builder, "keys:%d\r\n", stats.Size)
	fmt.Fprintf(&builder, "keyspace_hits:%d\r\n", stats.Hits)
	fmt.Fprintf(&builder, "keyspace_misses:%d\r\n", stats.Misses)
	fmt.Fprintf(&builder, "evicted_keys:%d\r\n", stats.Evictions)
	return builder.String()
}

func (rh *redisHandler) handle(cmd redisCommand) redisOutput {
	switch command := strings.ToUpper(cmd.command); command {
	case "PING":
		switch len(cmd.args) {
		case 0:
			return writeRedisString("PONG")
		case 1:
			return writeRedisBulk([]byte(cmd.args[0]))
		default:
			return wrongArity(command)
		}
	case "QUIT":
		return closeRedisConnection(RedisOk)
	case "SET":
		if len(cmd.args) < 2 {
			return wrongArity(command)
		}
		ttl, errOutput := parseSetTTL(cmd.args[2:])
		if errOutput != nil {
			return *errOutput
		}
		key, value := cmd.args[0], []byte(cmd.args[1])
		if ttl > 0 {
			rh.store.PutWithTTL(key, value, ttl)
		} else {
			rh.store.Put(key, value)
		}
		return writeRedisString(RedisOk)
	case "GET":
		if len(cmd.args) != 1 {
			return wrongArity(command)
		}
		if value, found := rh.store.Get(cmd.args[0]); found {
			return writeRedisBulk(value)
		}
		return writeRedisNil()
	case "DEL":
		if len(cmd.args) < 1 {
			return wrongArity(command)
		}
		deletedCount := 0
		for _, key := range cmd.args {
			if rh.store.Delete(key) {
				deletedCount++
			}
		}
		return writeRedisInt(deletedCount)
	case "EXISTS":
		if len(cmd.args) < 1 {
			return wrongArity(command)
		}
		existingCount := 0
		for _, key := range cmd.args { // Repeated keys count repeatedly, as in Redis.
			if rh.store.Has(key) {
				existingCount++
			}
		}
		return writeRedisInt(existingCount)
	case "KEYS":
		if len(cmd.args) != 1 {
			return wrongArity(command)
		}
		keys := rh.store.Keys()
		slices.Sort(keys)
		matched := slices.Collect(scan.MatchGlob(cmd.args[0], slices.Values(keys)))
		if matched == nil {
			matched = []string{}
		}
		return writeRedisArray(matched)
	case "DBSIZE":
		if len(cmd.args) != 0 {
			return wrongArity(command)
		}
		return writeRedisInt(rh.store.Size())
	case "FLUSHALL", "FLUSHDB":
		if len(cmd.args) > 1 { // Accepts the ASYNC / SYNC modifier and ignores it.
			return wrongArity(command)
		}
		rh.store.Clear()
		return writeRedisString(RedisOk)
	case "INFO":
		return writeRedisBulk([]byte(rh.info()))
	default:
		return writeRedisError(fmt.Sprintf("unknown command '%s'", cmd.command))
	}
}

// newRedisServer binds `handler` to a redcon server listening on `address`.
func newRedisServer(address string, handler *redisHandler) *redcon.Server {
	return redcon.NewServerNetwork("tcp" /*net*/, address,
		/*handler*/ func(conn redcon.Conn, cmd redcon.Command) {
			// Convert redcon.Command to redisCommand; redcon reuses the argument buffers, so copy them.
			command := redisCommand{command: string(cmd.Args[0]), args: make([]string, len(cmd.Args)-1)}
			for i := 1; i < len(cmd.Args); i++ {
				command.args[i-1] = string(cmd.Args[i])
			}
			output := handler.handle(command)
			writeRedisOutput(conn, output)
			if output.closeConnection {
				if err := conn.Close(); err != nil {
					slog.Error("Failed to close redis connection.", "remote", conn.RemoteAddr(), "error", err)
				}
			}
		},
		/*accept*/ func(conn redcon.Conn) bool {
			slog.Debug("Accepted redis connection.", "remote", conn.RemoteAddr())
			return true // Accept all connections.
		},
		/*closed*/ func(conn redcon.Conn, err error) {
			if err != nil {
				slog.Debug("Redis connection closed with error.", "remote", conn.RemoteAddr(), "error", err)
			}
		})
}

// serveRedis runs `server` until `ctx` is done. `onListen`, if set, is called with the bound address.
func serveRedis(ctx context.Context, server *redcon.Server, onListen func(net.Addr)) error {
	listenSignal := make(chan error, 1)
	serverErrSignal := make(chan error, 1)
	go func() { serverErrSignal <- server.ListenServeAndSignal(listenSignal) }()
	if err := <-listenSignal; err != nil {
		return fmt.Errorf("failed to listen for redis protocol: %w", err)
	}
	slog.Info("Redis server is listening.", "address", server.Addr().String())
	if onListen != nil {
		onListen(server.Addr())
	}

	select {
	case <-ctx.Done():
		if err := server.Close(); err != nil {
			return fmt.Errorf("failed to close redis server: %w", err)
		}
	case err := <-serverErrSignal:
		return fmt.Errorf("redis server stopped unexpectedly: %w", err)
	}
	return nil // Exited with no errors.
}

// RunRedisServer starts a Redis protocol server on --redis_address, backed by `store`.
func RunRedisServer(ctx context.Context, store cache.Layer[string, []byte]) error {
	if *redisAddress == "" {
		return errors.New("expected a non-empty --redis_address flag")
	}
	handler, err := newRedisHandler(store)
	if err != nil {
		return fmt.Errorf("failed to create a new redis handler: %w", err)
	}
	return serveRedis(ctx, newRedisServer(*redisAddress, handler), nil /*onListen*/)
}
