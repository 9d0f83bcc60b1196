package stubservice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"testing"
	"time"

	"github.com/kingrea/tally/internal/config"
	"github.com/kingrea/tally/internal/entity"
	"github.com/kingrea/tally/internal/extract"
)

func startServer(t *testing.T, settings Settings) *Server {
	t.Helper()
	settings.Host = "127.0.0.1"
	settings.Port = 0
	if settings.ReadTimeout == 0 {
		settings.ReadTimeout = time.Second
		settings.WriteTimeout = time.Second
		settings.IdleTimeout = time.Second
	}
	srv := NewServer(settings)
	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
	})
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("start server: %v", err)
	}
	return srv
}

func upload(t *testing.T, url, field, filename string, content []byte) (*http.Response, map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if filename == "" {
		if err := w.WriteField(field, string(content)); err != nil {
			t.Fatal(err)
		}
	} else {
		part, err := w.CreateFormFile(field, filename)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := part.Write(content); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, w.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]string
	if resp.StatusCode != http.StatusOK {
		_ = json.NewDecoder(resp.Body).Decode(&body)
	}
	return resp, body
}

func TestSettingsFromConfig(t *testing.T) {
	cfg := &config.Config{Project: config.ProjectConfig{Stub: config.StubConfig{
		Host:        " 0.0.0.0 ",
		Port:        9001,
		Unavailable: true,
	}}}
	settings := SettingsFromConfig(cfg)
	if settings.Host != "0.0.0.0" || settings.Port != 9001 {
		t.Fatalf("unexpected address %s", settings.Address())
	}
	if !settings.Unavailable || settings.IncludeOutside {
		t.Fatalf("flags not carried: %+v", settings)
	}

	defaults := SettingsFromConfig(nil)
	if defaults.Address() != "127.0.0.1:8000" || defaults.MaxBodyBytes != DefaultMaxBodyBytes {
		t.Fatalf("unexpected defaults %+v", defaults)
	}
}

func TestSettingsWithAddress(t *testing.T) {
	settings, err := Settings{Host: DefaultHost, Port: DefaultPort}.WithAddress(":9100")
	if err != nil {
		t.Fatal(err)
	}
	if settings.Host != DefaultHost || settings.Port != 9100 {
		t.Fatalf("unexpected address %s", settings.Address())
	}
	if _, err := settings.WithAddress("nonsense"); err == nil {
		t.Fatalf("expected bad address error")
	}
}

func TestServerErrorContract(t *testing.T) {
	srv := startServer(t, Settings{})

	resp, err := http.Get(srv.BaseURL() + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 health, got %d", resp.StatusCode)
	}

	resp, body := upload(t, srv.Endpoint(), "document", "a.txt", []byte("tank"))
	if resp.StatusCode != http.StatusBadRequest || body["error"] != "No file part" {
		t.Fatalf("expected No file part, got %d %v", resp.StatusCode, body)
	}

	resp, body = upload(t, srv.Endpoint(), FileField, "", []byte("tank"))
	if resp.StatusCode != http.StatusBadRequest || body["error"] != "No selected file" {
		t.Fatalf("expected No selected file, got %d %v", resp.StatusCode, body)
	}

	srv.SetUnavailable(true)
	resp, body = upload(t, srv.Endpoint(), FileField, "a.txt", []byte("tank"))
	if resp.StatusCode != http.StatusServiceUnavailable || body["error"] != "ML Model not available" {
		t.Fatalf("expected 503, got %d %v", resp.StatusCode, body)
	}
	if srv.Processed() != 0 {
		t.Fatalf("failed uploads must not count as processed")
	}
}

func TestServerEnforcesPayloadLimit(t *testing.T) {
	srv := startServer(t, Settings{MaxBodyBytes: 256})
	resp, _ := upload(t, srv.Endpoint(), FileField, "big.txt", bytes.Repeat([]byte("a"), 4096))
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", resp.StatusCode)
	}
}

func TestTokenizeSpans(t *testing.T) {
	items := Tokenize("The Outgoing flow, from the tank.\nweight", false)
	want := []struct{ token, label string }{
		{"Outgoing", "B-MEASUREMENT"},
		{"flow", "I-MEASUREMENT"},
		{"tank", "B-EQUIPMENT"},
		{"weight", "B-MEASUREMENT"},
	}
	if len(items) != len(want) {
		t.Fatalf("expected %d items, got %+v", len(want), items)
	}
	for i, w := range want {
		if items[i].Token != w.token || items[i].Label != w.label {
			t.Fatalf("item %d = %s/%s, want %s/%s", i, items[i].Token, items[i].Label, w.token, w.label)
		}
		if len(items[i].BBox) != 4 {
			t.Fatalf("item %d has bbox %v", i, items[i].BBox)
		}
	}
	all := Tokenize("The tank", true)
	if len(all) != 2 || all[0].Label != "O" {
		t.Fatalf("expected O token to be kept, got %+v", all)
	}
}

func TestRoundTripThroughClient(t *testing.T) {
	srv := startServer(t, Settings{})
	client, err := extract.New(srv.Endpoint(), extract.WithTimeout(5*time.Second))
	if err != nil {
		t.Fatal(err)
	}

	res, err := client.Extract(context.Background(), extract.Document{
		Name:    "narrative.txt",
		Content: []byte("If the SUSV tank weight deviates from Outgoing flow for some time"),
	})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(res.Entities) == 0 || res.Entities[0].Phrase != "SUSV" || res.Entities[0].Type != entity.CategoryEquipment {
		t.Fatalf("unexpected entities %+v", res.Entities)
	}
	if res.Entities[0].Confidence != confidence {
		t.Fatalf("confidence not carried: %v", res.Entities[0].Confidence)
	}

	binary, err := client.Extract(context.Background(), extract.Document{
		Name:    "narrative.pdf",
		Content: []byte{0x25, 0x50, 0x44, 0x46, 0x2d, 0x00, 0x01, 0xff},
	})
	if err != nil {
		t.Fatalf("extract binary: %v", err)
	}
	if len(binary.Entities) != len(sample) {
		t.Fatalf("expected sample response, got %d entities", len(binary.Entities))
	}

	srv.SetUnavailable(true)
	_, err = client.Extract(context.Background(), extract.Document{Name: "a.txt", Content: []byte("tank")})
	var statusErr *extract.StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 status error, got %v", err)
	}
	if srv.Processed() != 2 {
		t.Fatalf("expected 2 processed uploads, got %d", srv.Processed())
	}
}
