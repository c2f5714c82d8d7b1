package scanner

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dutchcoders/go-clamd"
)

// fakeClamd — минимальный сервер clamd: отвечает на PING и INSTREAM.
// Содержимое с подстрокой EICAR считается заражённым; с подстрокой
// HANG ответ не отправляется.
func fakeClamd(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go handleClamdConn(conn)
		}
	}()
	return ln.Addr().String()
}

func handleClamdConn(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)

	cmd, err := r.ReadString('\n')
	if err != nil {
		return
	}
	switch strings.TrimPrefix(strings.TrimSpace(cmd), "n") {
	case "PING":
		_, _ = conn.Write([]byte("PONG\n"))
	case "INSTREAM":
		var data []byte
		header := make([]byte, 4)
		for {
			if _, err := io.ReadFull(r, header); err != nil {
				return
			}
			n := binary.BigEndian.Uint32(header)
			if n == 0 {
				break
			}
			chunk := make([]byte, n)
			if _, err := io.ReadFull(r, chunk); err != nil {
				return
			}
			data = append(data, chunk...)
		}
		switch {
		case strings.Contains(string(data), "HANG"):
			_, _ = io.Copy(io.Discard, r)
		case strings.Contains(string(data), "EICAR"):
			_, _ = conn.Write([]byte("stream: Eicar-Test-Signature FOUND\n"))
		default:
			_, _ = conn.Write([]byte("stream: OK\n"))
		}
	}
}

func TestClamdEngine_PingAndScan(t *testing.T) {
	engine, err := NewClamdEngine(fakeClamd(t))
	if err != nil {
		t.Fatalf("NewClamdEngine: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := engine.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	dir := t.TempDir()
	clean := filepath.Join(dir, "clean.txt")
	_ = os.WriteFile(clean, []byte(strings.Repeat("hello ", 30000)), 0o640)
	v, err := engine.Scan(ctx, clean)
	if err != nil || v.Infected {
		t.Errorf("чистый файл: %+v, %v", v, err)
	}

	infected := filepath.Join(dir, "eicar.txt")
	_ = os.WriteFile(infected, []byte("X5O!P%@AP[4\\PZX54(P^)7CC)7}$EICAR-STANDARD-ANTIVIRUS-TEST-FILE!$H+H*"), 0o640)
	v, err = engine.Scan(ctx, infected)
	if err != nil || !v.Infected || v.Threats[0] != "Eicar-Test-Signature" {
		t.Errorf("заражённый файл: %+v, %v", v, err)
	}
}

func TestClamdEngine_Unreachable(t *testing.T) {
	ln, _ := net.Listen("tcp", "127.0.0.1:0")
	addr := ln.Addr().String()
	ln.Close()

	engine, _ := NewClamdEngine(addr)
	if err := engine.Ping(context.Background()); err == nil {
		t.Error("ожидалась ошибка подключения")
	}
}

func TestClamdEngine_ScanHonoursContext(t *testing.T) {
	engine, err := NewClamdEngine(fakeClamd(t))
	if err != nil {
		t.Fatal(err)
	}
	p := filepath.Join(t.TempDir(), "slow.bin")
	_ = os.WriteFile(p, []byte("HANG"), 0o640)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = engine.Scan(ctx, p)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("ожидался DeadlineExceeded, получено %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Scan вернулся через %s после дедлайна", elapsed)
	}
}

func TestClamdURL(t *testing.T) {
	tests := []struct {
		addr, want string
		wantErr    bool
	}{
		{"unix:/run/clamd.sock", "unix:///run/clamd.sock", false},
		{"unix:///run/clamd.sock", "unix:///run/clamd.sock", false},
		{"tcp://clamav:3310", "tcp://clamav:3310", false},
		{"clamav:3310", "tcp://clamav:3310", false},
		{"clamav", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := clamdURL(tt.addr)
		if (err != nil) != tt.wantErr {
			t.Errorf("%q: ошибка %v", tt.addr, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%q: хотели %q, получили %q", tt.addr, tt.want, got)
		}
	}
}

func TestCollectVerdict(t *testing.T) {
	feed := func(results ...*clamd.ScanResult) chan *clamd.ScanResult {
		ch := make(chan *clamd.ScanResult, len(results))
		for _, r := range results {
			ch <- r
		}
		close(ch)
		return ch
	}
	ctx := context.Background()

	if v, err := collectVerdict(ctx, feed(&clamd.ScanResult{Status: clamd.RES_OK})); err != nil || v.Infected {
		t.Errorf("OK: %+v, %v", v, err)
	}
	v, err := collectVerdict(ctx, feed(
		&clamd.ScanResult{Status: clamd.RES_FOUND, Description: "Win.Test.EICAR_HDB-1"},
		&clamd.ScanResult{Status: clamd.RES_FOUND, Description: "Eicar-Test-Signature"},
	))
	if err != nil || !v.Infected || len(v.Threats) != 2 {
		t.Errorf("FOUND: %+v, %v", v, err)
	}
	if _, err := collectVerdict(ctx, feed(&clamd.ScanResult{Status: clamd.RES_ERROR, Raw: "INSTREAM size limit exceeded. ERROR"})); err == nil {
		t.Error("ERROR: ожидалась ошибка")
	}
	if _, err := collectVerdict(ctx, feed(&clamd.ScanResult{Status: clamd.RES_PARSE_ERROR, Raw: "garbage"})); err == nil {
		t.Error("неизвестный ответ: ожидалась ошибка")
	}
	if _, err := collectVerdict(ctx, feed()); err == nil {
		t.Error("пустой ответ: ожидалась ошибка")
	}
}
