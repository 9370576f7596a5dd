package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/dependabot/registry-proxy/internal/model"
	"github.com/sirupsen/logrus/hooks/test"
)

func TestInput(t *testing.T) {
	inputCh := make(chan *model.Input)
	defer close(inputCh)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal("Failed to create listener: ", err.Error())
	}
	logger, _ := test.NewNullLogger()

	go func() {
		input, err := Input(context.Background(), logger, l)
		if err != nil {
			t.Errorf("%s", err.Error())
		}
		inputCh <- input
	}()

	url := fmt.Sprintf("http://%s", l.Addr().String())

	resp, err := http.Post(url, "application/json", bytes.NewReader([]byte(`{"bogus":true}`)))
	if err != nil {
		t.Fatal(err.Error())
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected status code 400 for an invalid document, got %d", resp.StatusCode)
	}

	data := `{"registries":[{"type":"npm_registry","url":"https://npm.pkg.github.com"}],"credentials":[{"url":"https://npm.pkg.github.com","token":"value"}]}`
	resp, err = http.Post(url, "application/json", bytes.NewReader([]byte(data)))
	if err != nil {
		t.Fatal(err.Error())
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Errorf("expected status code 200, got %d", resp.StatusCode)
	}

	// Test will hang here if the server does not shut down
	input := <-inputCh

	if len(input.Registries) != 1 || input.Registries[0].Type != model.NpmRegistry {
		t.Errorf("unexpected registries %v", input.Registries)
	}
	if input.Credentials[0].Token != "value" {
		t.Errorf("expected token to be 'value', got '%v'", input.Credentials[0].Token)
	}
}

func TestInput_Canceled(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	logger, _ := test.NewNullLogger()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = Input(ctx, logger, l)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected the deadline error, got %v", err)
	}
}
