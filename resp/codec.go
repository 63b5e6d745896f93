package resp

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrProtocol is returned by Decode when the wire does not follow a
// recognized RESP type prefix, a length or number does not parse, or a
// bulk string's payload is cut short. A stream that ends before a line is
// complete returns the reader's own error (such as io.EOF) unwrapped.
var ErrProtocol = errors.New("resp: could not parse redisearch results")

// Decode reads one Reply from r, recursing into aggregate types. RESP2 and
// RESP3 replies are both accepted regardless of which protocol Encode was
// told to use, since a connection may receive either at any time.
func Decode(r *bufio.Reader) (Reply, error) {
	line, err := readLine(r)
	if err != nil {
		return Reply{}, err
	}
	if len(line) == 0 {
		return Reply{}, ErrProtocol
	}

	prefix, body := line[0], line[1:]
	switch prefix {
	case '+':
		return String(body), nil
	case '-':
		return Err(body), nil
	case ':':
		n, err := strconv.ParseInt(body, 10, 64)
		if err != nil {
			return Reply{}, errors.Wrap(ErrProtocol, err.Error())
		}
		return Int(n), nil
	case ',':
		f, err := strconv.ParseFloat(body, 64)
		if err != nil {
			return Reply{}, errors.Wrap(ErrProtocol, err.Error())
		}
		return Double(f), nil
	case '#':
		if body == "t" {
			return Int(1), nil
		}
		return Int(0), nil
	case '_':
		return Nil(), nil
	case '$':
		return decodeBulkString(r, body)
	case '=':
		s, err := decodeBulkString(r, body)
		if err != nil {
			return Reply{}, err
		}
		// Verbatim strings carry a 3-char type tag and colon, e.g. "txt:".
		if len(s.Str) > 4 {
			s.Str = s.Str[4:]
		}
		return s, nil
	case '*', '>', '~':
		return decodeArray(r, body)
	case '%':
		return decodeMap(r, body)
	default:
		return Reply{}, errors.Wrapf(ErrProtocol, "unknown type prefix %q", prefix)
	}
}

func decodeBulkString(r *bufio.Reader, lenStr string) (Reply, error) {
	n, err := strconv.Atoi(lenStr)
	if err != nil {
		return Reply{}, errors.Wrap(ErrProtocol, err.Error())
	}
	if n < 0 {
		return Nil(), nil
	}
	buf := make([]byte, n+2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Reply{}, errors.Wrap(ErrProtocol, err.Error())
	}
	return String(string(buf[:n])), nil
}

func decodeArray(r *bufio.Reader, lenStr string) (Reply, error) {
	n, err := strconv.Atoi(lenStr)
	if err != nil {
		return Reply{}, errors.Wrap(ErrProtocol, err.Error())
	}
	if n < 0 {
		return Nil(), nil
	}
	items := make([]Reply, n)
	for i := 0; i < n; i++ {
		items[i], err = Decode(r)
		if err != nil {
			return Reply{}, err
		}
	}
	return Array(items...), nil
}

func decodeMap(r *bufio.Reader, lenStr string) (Reply, error) {
	n, err := strconv.Atoi(lenStr)
	if err != nil {
		return Reply{}, errors.Wrap(ErrProtocol, err.Error())
	}
	if n < 0 {
		return Nil(), nil
	}
	entries := make([]MapEntry, n)
	for i := 0; i < n; i++ {
		k, err := Decode(r)
		if err != nil {
			return Reply{}, err
		}
		v, err := Decode(r)
		if err != nil {
			return Reply{}, err
		}
		entries[i] = MapEntry{Key: k, Value: v}
	}
	return Map(entries...), nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Encode writes r to w in RESP2 or RESP3 form depending on protocol (2 or
// 3). Callers must Flush w themselves; Encode may recurse many times for
// aggregate replies and flushing per-call would defeat buffering.
func Encode(w *bufio.Writer, r Reply, protocol int) error {
	switch r.Kind {
	case KindNil:
		if protocol >= 3 {
			_, err := w.WriteString("_\r\n")
			return err
		}
		_, err := w.WriteString("$-1\r\n")
		return err

	case KindString:
		return writeBulkString(w, r.Str)

	case KindError:
		_, err := fmt.Fprintf(w, "-%s\r\n", sanitizeStatusLine(r.Str))
		return err

	case KindInteger:
		_, err := fmt.Fprintf(w, ":%d\r\n", r.Int)
		return err

	case KindDouble:
		if protocol >= 3 {
			_, err := fmt.Fprintf(w, ",%s\r\n", formatDouble(r.Double))
			return err
		}
		return writeBulkString(w, formatDouble(r.Double))

	case KindArray:
		if _, err := fmt.Fprintf(w, "*%d\r\n", len(r.Array)); err != nil {
			return err
		}
		for _, item := range r.Array {
			if err := Encode(w, item, protocol); err != nil {
				return err
			}
		}
		return nil

	case KindMap:
		return encodeMap(w, r.Map, protocol)

	default:
		return errors.Errorf("resp: encode: unknown kind %d", r.Kind)
	}
}

func encodeMap(w *bufio.Writer, entries []MapEntry, protocol int) error {
	if protocol >= 3 {
		if _, err := fmt.Fprintf(w, "%%%d\r\n", len(entries)); err != nil {
			return err
		}
	} else {
		if _, err := fmt.Fprintf(w, "*%d\r\n", len(entries)*2); err != nil {
			return err
		}
	}
	for _, e := range entries {
		if err := Encode(w, e.Key, protocol); err != nil {
			return err
		}
		if err := Encode(w, e.Value, protocol); err != nil {
			return err
		}
	}
	return nil
}

func writeBulkString(w *bufio.Writer, s string) error {
	_, err := fmt.Fprintf(w, "$%d\r\n%s\r\n", len(s), s)
	return err
}

func sanitizeStatusLine(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\r' || r == '\n' {
			return ' '
		}
		return r
	}, s)
}

func formatDouble(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	default:
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
}
