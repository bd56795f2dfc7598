package gateway

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Minimal FastCGI web-server side used to drive the gateway end to end.

const (
	fcgiVersion      = 1
	fcgiBeginRequest = 1
	fcgiEndRequest   = 3
	fcgiParams       = 4
	fcgiStdin        = 5
	fcgiStdout       = 6
	fcgiStderr       = 7
	fcgiResponder    = 1
	fcgiRequestID    = 1
)

type fcgiResult struct {
	Status  int
	Header  textproto.MIMEHeader
	Body    []byte
	Stderr  []byte
	AppCode uint32
}

func fcgiRecord(typ byte, content []byte) []byte {
	var b bytes.Buffer
	b.Write([]byte{fcgiVersion, typ, 0, fcgiRequestID})
	_ = binary.Write(&b, binary.BigEndian, uint16(len(content)))
	b.Write([]byte{0, 0})
	b.Write(content)
	return b.Bytes()
}

func fcgiPairLen(b *bytes.Buffer, n int) {
	if n < 128 {
		b.WriteByte(byte(n))
		return
	}
	_ = binary.Write(b, binary.BigEndian, uint32(n)|1<<31)
}

func fcgiEncodeParams(params map[string]string) []byte {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	var b bytes.Buffer
	for _, name := range names {
		fcgiPairLen(&b, len(name))
		fcgiPairLen(&b, len(params[name]))
		b.WriteString(name)
		b.WriteString(params[name])
	}
	return b.Bytes()
}

// fcgiDo sends one responder request over a fresh connection.
func fcgiDo(addr string, params map[string]string, body []byte) (*fcgiResult, error) {
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))

	var req bytes.Buffer
	req.Write(fcgiRecord(fcgiBeginRequest, []byte{0, fcgiResponder, 0, 0, 0, 0, 0, 0}))
	if p := fcgiEncodeParams(params); len(p) > 0 {
		req.Write(fcgiRecord(fcgiParams, p))
	}
	req.Write(fcgiRecord(fcgiParams, nil))
	if len(body) > 0 {
		req.Write(fcgiRecord(fcgiStdin, body))
	}
	req.Write(fcgiRecord(fcgiStdin, nil))
	if _, err := conn.Write(req.Bytes()); err != nil {
		return nil, err
	}

	var stdout, stderr bytes.Buffer
	var appCode uint32
	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			return nil, fmt.Errorf("read record header: %w", err)
		}
		contentLen := binary.BigEndian.Uint16(header[4:6])
		padding := int(header[6])
		content := make([]byte, int(contentLen)+padding)
		if _, err := io.ReadFull(conn, content); err != nil {
			return nil, fmt.Errorf("read record content: %w", err)
		}
		content = content[:contentLen]
		switch header[1] {
		case fcgiStdout:
			stdout.Write(content)
		case fcgiStderr:
			stderr.Write(content)
		case fcgiEndRequest:
			if len(content) >= 4 {
				appCode = binary.BigEndian.Uint32(content[:4])
			}
			res, err := parseCGIResponse(stdout.Bytes())
			if err != nil {
				return nil, err
			}
			res.Stderr = stderr.Bytes()
			res.AppCode = appCode
			return res, nil
		}
	}
}

func parseCGIResponse(raw []byte) (*fcgiResult, error) {
	r := textproto.NewReader(bufio.NewReader(bytes.NewReader(raw)))
	hdr, err := r.ReadMIMEHeader()
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse response header: %w", err)
	}
	status := 200
	if line := hdr.Get("Status"); line != "" {
		code, _, _ := strings.Cut(line, " ")
		status, err = strconv.Atoi(code)
		if err != nil {
			return nil, fmt.Errorf("parse status %q: %w", line, err)
		}
	}
	body, err := io.ReadAll(r.R)
	if err != nil {
		return nil, err
	}
	return &fcgiResult{Status: status, Header: hdr, Body: body}, nil
}

func fcgiParamsFor(method, uri string) map[string]string {
	path, query, _ := strings.Cut(uri, "?")
	return map[string]string{
		"REQUEST_METHOD":  method,
		"REQUEST_URI":     uri,
		"DOCUMENT_URI":    path,
		"QUERY_STRING":    query,
		"SERVER_PROTOCOL": "HTTP/1.1",
		"SERVER_NAME":     "example.test",
		"SERVER_PORT":     "80",
		"REQUEST_SCHEME":  "http",
		"REMOTE_ADDR":     "127.0.0.1",
		"REMOTE_PORT":     "40000",
		"HTTP_HOST":       "example.test",
	}
}
