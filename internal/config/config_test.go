package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/roelfdiedericks/voxledger/internal/logging"
)

// isolate points the base dir at a temp dir and clears credential env vars.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("VOXLEDGER_HOME", home)
	for _, k := range []string{"TELEGRAM_BOT_TOKEN", "GEMINI_API_KEY", "GROQ_API_KEY", "OPENAI_API_KEY", "GOOGLE_STT_API_KEY", "ANTHROPIC_API_KEY", "VOXLEDGER_LOG_LEVEL", "FFMPEG_PATH", "VOXLEDGER_HTTP_PASSWORD"} {
		t.Setenv(k, "")
	}
	return home
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "voxledger.json")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	home := isolate(t)

	cfg, used, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if used != "" {
		t.Errorf("used = %q, want no file", used)
	}
	if cfg.Transcribe.MaxRetries != 3 || cfg.Audio.MaxDurationSeconds != 1200 {
		t.Errorf("defaults not applied: %+v %+v", cfg.Transcribe, cfg.Audio)
	}
	if want := filepath.Join(home, "ledger.db"); cfg.Storage.LedgerPath != want {
		t.Errorf("ledger path = %q, want %q", cfg.Storage.LedgerPath, want)
	}
	if want := filepath.Join(home, "audio"); cfg.Audio.WorkDir != want {
		t.Errorf("work dir = %q, want %q", cfg.Audio.WorkDir, want)
	}
	if _, ok := cfg.Pricing["gemini"]; !ok {
		t.Error("default pricing missing")
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	home := isolate(t)
	path := writeConfig(t, home, `{
		"logging": {"level": "debug"},
		"transcribe": {"maxRetries": 5},
		"stt": {"order": ["groq", "whispercpp"], "groq": {"apiKey": "from-file"}},
		"pricing": {"groq": {"kind": "duration_minutes", "ratePerMinute": 0.002}},
		"cron": {"enabled": false}
	}`)

	cfg, used, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if used != path {
		t.Errorf("used = %q", used)
	}
	if cfg.Transcribe.MaxRetries != 5 || cfg.Transcribe.RetryDelayMillis != 1000 {
		t.Errorf("transcribe = %+v", cfg.Transcribe)
	}
	if len(cfg.STT.Order) != 2 || cfg.STT.Groq.APIKey != "from-file" || cfg.STT.Groq.Model == "" {
		t.Errorf("stt = %+v", cfg.STT)
	}
	if cfg.Pricing["groq"].RatePerMinute != 0.002 || cfg.Pricing["openai"].RatePerMinute != 0.006 {
		t.Errorf("pricing = %+v", cfg.Pricing)
	}
	if cfg.Cron.Enabled {
		t.Error("explicit false should survive loading")
	}
	if lc := cfg.LogConfigFor(false); lc.Level != logging.LevelDebug {
		t.Errorf("log level = %d", lc.Level)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	home := isolate(t)
	path := writeConfig(t, home, `{"stt": {"groq": {"apiKey": "from-file"}, "openai": {"apiKey": "keep"}}}`)
	t.Setenv("GROQ_API_KEY", "from-env")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")

	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.STT.Groq.APIKey != "from-env" {
		t.Errorf("groq key = %q", cfg.STT.Groq.APIKey)
	}
	if cfg.STT.OpenAI.APIKey != "keep" {
		t.Errorf("unset env should not clear file value: %q", cfg.STT.OpenAI.APIKey)
	}
	if cfg.Telegram.BotToken != "123:abc" {
		t.Errorf("token = %q", cfg.Telegram.BotToken)
	}
}

func TestDotEnvIsLoaded(t *testing.T) {
	home := isolate(t)
	os.Unsetenv("GEMINI_API_KEY")
	if err := os.WriteFile(filepath.Join(home, ".env"), []byte("GEMINI_API_KEY=dotenv-key\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("GEMINI_API_KEY") })

	cfg, _, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.STT.Gemini.APIKey != "dotenv-key" {
		t.Errorf("gemini key = %q", cfg.STT.Gemini.APIKey)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"telegram token", `{"telegram": {"enabled": true}}`, "telegram.botToken: is required"},
		{"log level", `{"logging": {"level": "loud"}}`, "logging.level: must be one of"},
		{"retries", `{"transcribe": {"maxRetries": 50}}`, "transcribe.maxRetries: must be at most 10"},
		{"provider", `{"stt": {"order": ["gemini", "azure"]}}`, "stt.order[1]"},
		{"pricing kind", `{"pricing": {"x": {"kind": "per_byte"}}}`, "pricing[x].kind"},
		{"api password", `{"http": {"enabled": true}}`, "http.password: is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			home := isolate(t)
			_, _, err := Load(writeConfig(t, home, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestBrokenJSON(t *testing.T) {
	home := isolate(t)
	if _, _, err := Load(writeConfig(t, home, `{"logging": `)); err == nil {
		t.Error("broken JSON should fail")
	}
}

func TestWriteDefaultKeepsBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voxledger.json")

	for i := 0; i < 3; i++ {
		if err := WriteDefault(path); err != nil {
			t.Fatalf("WriteDefault: %v", err)
		}
	}
	for _, p := range []string{path, path + ".bak", path + ".bak.1"} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("%s missing: %v", p, err)
		}
	}
	info, _ := os.Stat(path)
	if info.Mode().Perm() != 0600 {
		t.Errorf("perm = %v", info.Mode().Perm())
	}

	isolate(t)
	if _, _, err := Load(path); err != nil {
		t.Errorf("written default should load: %v", err)
	}
}

func TestWatcherReloads(t *testing.T) {
	home := isolate(t)
	path := writeConfig(t, home, `{"transcribe": {"maxRetries": 2}}`)

	got := make(chan *Config, 4)
	w, err := NewWatcher(path, func(c *Config) { got <- c })
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	// A broken edit is skipped, the next good one is delivered.
	writeConfig(t, home, `{"transcribe": `)
	time.Sleep(2 * reloadDebounce)
	writeConfig(t, home, `{"transcribe": {"maxRetries": 7}}`)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-got:
			if c.Transcribe.MaxRetries == 7 {
				return
			}
		case <-deadline:
			t.Fatal("no reload observed")
		}
	}
}
