package main

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/hotpatch/compiler"
	"github.com/GoCodeAlone/hotpatch/engine"
	"github.com/GoCodeAlone/hotpatch/sourcelang"
)

func TestServeWorkerProtocolCompilesAndReturnsImage(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	frontend := compiler.NewSourceFrontend(sourcelang.Compile, compiler.ConfigRelease)
	go serveWorkerProtocol(ln, frontend, nil)

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	src := `class C { void Tick(){ print("a"); } }`
	fmt.Fprintf(conn, "compile A\n%d\n%s", len(src), src)

	r := bufio.NewReader(conn)
	status, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "ok ", status[:3])

	var n int
	_, err = fmt.Sscanf(strings.TrimSpace(status), "ok %d", &n)
	require.NoError(t, err)

	buf := make([]byte, n)
	_, err = r.Read(buf)
	require.NoError(t, err)

	mod, err := engine.DecodeImage(buf[:n])
	require.NoError(t, err)
	require.Equal(t, "A", mod.Name)
	require.Len(t, mod.Types, 1)
}

func TestServeWorkerProtocolReportsCompileError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	frontend := compiler.NewSourceFrontend(sourcelang.Compile, compiler.ConfigRelease)
	go serveWorkerProtocol(ln, frontend, nil)

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	src := `class C { void Tick(){ print(missing); } }`
	fmt.Fprintf(conn, "compile A\n%d\n%s", len(src), src)

	r := bufio.NewReader(conn)
	status, err := r.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(status, "err "))
}

func TestServeWorkerProtocolRejectsMalformedRequestLine(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	frontend := compiler.NewSourceFrontend(sourcelang.Compile, compiler.ConfigRelease)
	go serveWorkerProtocol(ln, frontend, nil)

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	fmt.Fprintf(conn, "bogus line\n")

	r := bufio.NewReader(conn)
	status, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "err malformed request line\n", status)
}
