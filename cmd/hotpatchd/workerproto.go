package main

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/GoCodeAlone/hotpatch/compiler"
	"github.com/GoCodeAlone/hotpatch/engine"
	"github.com/GoCodeAlone/hotpatch/logging"
)

// serveWorkerProtocol runs the out-of-process compiler worker protocol:
// a line-oriented request/response format so the compile step can run
// in a separate process without coupling the wire format to anything
// host-specific.
//
//	compile <name>\n<len>\n<source bytes>
//
// responds with either
//
//	ok <len>\n<image bytes>
//
// or
//
//	err <diagnostics text>\n
func serveWorkerProtocol(ln net.Listener, frontend compiler.Frontend, logger logging.Logger) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			logger.Warn("worker listener accept failed", "error", err)
			return
		}
		go handleWorkerConn(conn, frontend, logger)
	}
}

func handleWorkerConn(conn net.Conn, frontend compiler.Frontend, logger logging.Logger) {
	defer conn.Close()
	r := bufio.NewReader(conn)

	reqLine, err := r.ReadString('\n')
	if err != nil {
		return
	}
	parts := strings.Fields(strings.TrimSpace(reqLine))
	if len(parts) != 2 || parts[0] != "compile" {
		fmt.Fprintf(conn, "err malformed request line\n")
		return
	}
	moduleName := parts[1]

	lenLine, err := r.ReadString('\n')
	if err != nil {
		fmt.Fprintf(conn, "err malformed length line\n")
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(lenLine))
	if err != nil || n < 0 {
		fmt.Fprintf(conn, "err malformed length\n")
		return
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		fmt.Fprintf(conn, "err short read: %v\n", err)
		return
	}

	mod, diags, err := frontend.Compile(string(buf), moduleName)
	if err != nil || hasFatal(diags) {
		fmt.Fprintf(conn, "err %s\n", formatDiagnostics(diags, err))
		return
	}

	imageBytes, encErr := engine.EncodeImage(mod)
	if encErr != nil {
		fmt.Fprintf(conn, "err encoding image: %v\n", encErr)
		return
	}
	fmt.Fprintf(conn, "ok %d\n", len(imageBytes))
	conn.Write(imageBytes)
}

func hasFatal(diags []compiler.Diagnostic) bool {
	for _, d := range diags {
		if d.Fatal {
			return true
		}
	}
	return false
}

func formatDiagnostics(diags []compiler.Diagnostic, err error) string {
	if err != nil {
		return err.Error()
	}
	var b strings.Builder
	for i, d := range diags {
		if i > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "line %d: %s", d.Line, d.Message)
	}
	return b.String()
}
