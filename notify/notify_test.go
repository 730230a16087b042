package notify

import (
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"scalp_guard_go/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recording struct {
	subjects []string
	err      error
}

func (r *recording) Notify(subject, body string) error {
	r.subjects = append(r.subjects, subject)
	return r.err
}

func TestMulti_FansOutAndJoinsErrors(t *testing.T) {
	ok := &recording{}
	broken := &recording{err: errors.New("smtp down")}
	m := Multi{broken, ok}

	err := m.Notify("XAUUSDT Trade Opened", "BUY at 2000.3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp down")
	assert.Equal(t, []string{"XAUUSDT Trade Opened"}, ok.subjects, "a failing channel does not block the others")
	assert.NoError(t, Multi{ok}.Notify("s", "b"))
}

func TestTelegramNotifier(t *testing.T) {
	var (
		mu               sync.Mutex
		paths            []string
		gotChat, gotText string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		mu.Lock()
		defer mu.Unlock()
		paths = append(paths, r.URL.Path)
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			w.Write([]byte(`{"ok":true,"result":{"id":7,"is_bot":true,"first_name":"scalp","username":"scalp_bot"}}`))
		case r.PostForm.Get("chat_id") == "-1":
			w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
		default:
			gotChat = r.PostForm.Get("chat_id")
			gotText = r.PostForm.Get("text")
			w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":1700000000,"chat":{"id":42,"type":"private"}}}`))
		}
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "42")
	n.endpoint = srv.URL + "/bot%s/%s"
	require.NoError(t, n.Notify("XAUUSDT Break-even", "stop moved to entry"))
	require.NoError(t, n.Notify("XAUUSDT Trailing", "stop advanced"))

	mu.Lock()
	assert.Equal(t, []string{"/botTOKEN/getMe", "/botTOKEN/sendMessage", "/botTOKEN/sendMessage"}, paths, "the bot connects once")
	assert.Equal(t, "42", gotChat)
	assert.Equal(t, "XAUUSDT Trailing\nstop advanced", gotText)
	mu.Unlock()

	n.chatID = "-1"
	err := n.Notify("s", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestTelegramNotifier_ConnectFailureIsRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"ok":false,"error_code":401,"description":"Unauthorized"}`))
	}))
	defer srv.Close()

	n := NewTelegramNotifier("BAD", "42")
	n.endpoint = srv.URL + "/bot%s/%s"
	assert.Error(t, n.Notify("s", "b"))
	assert.Error(t, n.Notify("s", "b"))
	assert.Equal(t, int32(2), calls.Load(), "a failed connect is not cached")
}

func TestEmailNotifier_StalledServerTimesOut(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			// Accept and never greet.
			t.Cleanup(func() { conn.Close() })
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	e := NewEmailNotifier("127.0.0.1", port, "bot@example.com", "a@example.com", "")
	e.timeout = 100 * time.Millisecond

	start := time.Now()
	err = e.Notify("XAUUSDT Trade Opened", "BUY")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestBuildMessage(t *testing.T) {
	msg := string(buildMessage("bot@example.com", []string{"a@example.com", "b@example.com"}, "Timeout\nclose", "line1\nline2"))
	assert.True(t, strings.HasPrefix(msg, "From: bot@example.com\r\nTo: a@example.com, b@example.com\r\n"))
	assert.Contains(t, msg, "Subject: Timeout close\r\n")
	assert.True(t, strings.HasSuffix(msg, "\r\n\r\nline1\r\nline2\r\n"))
}

func TestNewEmailNotifier_SplitsRecipients(t *testing.T) {
	e := NewEmailNotifier("smtp.example.com", 465, "bot@example.com", "a@example.com, b@example.com,", "pw")
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, e.to)
}

func TestFromConfig(t *testing.T) {
	t.Run("nil config logs only", func(t *testing.T) {
		n, err := FromConfig(nil, "", "")
		require.NoError(t, err)
		assert.Len(t, n.(Multi), 1)
	})

	t.Run("enabled channels", func(t *testing.T) {
		cfg := &config.NotifyConfig{
			Email:    &config.EmailConfig{Enabled: true, SMTPHost: "smtp.example.com", SMTPPort: 465, From: "a@b", To: "c@d"},
			Telegram: &config.TelegramConfig{Enabled: true, ChatID: "1"},
		}
		n, err := FromConfig(cfg, "pw", "token")
		require.NoError(t, err)
		chain := n.(Multi)
		require.Len(t, chain, 3)
		assert.IsType(t, &EmailNotifier{}, chain[1])
		assert.IsType(t, &TelegramNotifier{}, chain[2])
	})

	t.Run("missing secret", func(t *testing.T) {
		cfg := &config.NotifyConfig{Telegram: &config.TelegramConfig{Enabled: true, ChatID: "1"}}
		_, err := FromConfig(cfg, "", "")
		assert.Error(t, err)
	})
}
