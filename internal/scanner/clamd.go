package scanner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/dutchcoders/go-clamd"
)

// clamdClient — часть go-clamd, которой пользуется движок.
type clamdClient interface {
	Ping() error
	ScanStream(r io.Reader, abort chan bool) (chan *clamd.ScanResult, error)
}

// ClamdEngine — движок clamd (INSTREAM по TCP или unix-сокету).
type ClamdEngine struct {
	address string
	client  clamdClient
}

// NewClamdEngine принимает адрес "unix:/run/clamd.sock",
// "tcp://host:3310" или "host:3310".
func NewClamdEngine(addr string) (*ClamdEngine, error) {
	address, err := clamdURL(addr)
	if err != nil {
		return nil, err
	}
	return &ClamdEngine{address: address, client: clamd.NewClamd(address)}, nil
}

// clamdURL приводит адрес к виду, который понимает go-clamd.
func clamdURL(addr string) (string, error) {
	switch {
	case addr == "":
		return "", errors.New("адрес clamd не задан")
	case strings.HasPrefix(addr, "unix:"):
		return "unix://" + strings.TrimPrefix(strings.TrimPrefix(addr, "unix:"), "//"), nil
	case strings.HasPrefix(addr, "tcp://"):
		return addr, nil
	default:
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return "", fmt.Errorf("некорректный адрес clamd %q: %w", addr, err)
		}
		return "tcp://" + addr, nil
	}
}

// Ping проверяет доступность clamd. go-clamd не принимает контекст,
// поэтому ожидание ограничивается ctx.
func (e *ClamdEngine) Ping(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- e.client.Ping() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("clamd %s: %w", e.address, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Scan передаёт файл в clamd. Отмена ctx закрывает соединение
// через канал abort go-clamd.
func (e *ClamdEngine) Scan(ctx context.Context, path string) (Verdict, error) {
	f, err := os.Open(path)
	if err != nil {
		return Verdict{}, fmt.Errorf("ошибка открытия файла для проверки: %w", err)
	}
	defer f.Close()

	abort := make(chan bool)
	var once sync.Once
	closeAbort := func() { once.Do(func() { close(abort) }) }
	defer closeAbort()
	stop := context.AfterFunc(ctx, closeAbort)
	defer stop()

	results, err := e.client.ScanStream(f, abort)
	if err != nil {
		if ctx.Err() != nil {
			return Verdict{}, ctx.Err()
		}
		return Verdict{}, fmt.Errorf("clamd %s: %w", e.address, err)
	}
	return collectVerdict(ctx, results)
}

// collectVerdict читает ответы clamd до закрытия канала.
func collectVerdict(ctx context.Context, results <-chan *clamd.ScanResult) (Verdict, error) {
	var v Verdict
	seen := 0
	for {
		select {
		case <-ctx.Done():
			go func() {
				for range results {
				}
			}()
			return Verdict{}, ctx.Err()
		case r, ok := <-results:
			if !ok {
				if err := ctx.Err(); err != nil {
					return Verdict{}, err
				}
				if seen == 0 {
					return Verdict{}, errors.New("clamd закрыл соединение без ответа")
				}
				return v, nil
			}
			seen++
			switch r.Status {
			case clamd.RES_OK:
			case clamd.RES_FOUND:
				v.Infected = true
				v.Threats = append(v.Threats, r.Description)
			case clamd.RES_ERROR:
				return Verdict{}, fmt.Errorf("clamd вернул ошибку: %s", r.Raw)
			default:
				return Verdict{}, fmt.Errorf("неожиданный ответ clamd: %q", r.Raw)
			}
		}
	}
}
