package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type fakePreloader struct {
	urls []string
	err  error
}

func (f *fakePreloader) Preload(_ context.Context, url string) error {
	if f.err != nil {
		return f.err
	}
	f.urls = append(f.urls, url)
	return nil
}

func newRuntime(t *testing.T, completion string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"data":[]}`))
	})
	mux.HandleFunc("/v1/completions", func(w http.ResponseWriter, r *http.Request) {
		var req completionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if !strings.Contains(req.Prompt, "金融技术分析师") {
			t.Errorf("prompt missing analyst framing: %s", req.Prompt)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]string{{"text": completion}},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPLoad(t *testing.T) {
	rt := newRuntime(t, "ok")
	pre := &fakePreloader{}
	weights := []string{"https://huggingface.co/m/model.bin", "https://huggingface.co/m/config.json"}
	h := NewHTTP("Xenova/gpt2", "GPT-2", rt.URL, "sk-test", SizeMedium, weights, pre)

	state, err := h.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	var parsed loadedState
	if err := json.Unmarshal(state, &parsed); err != nil {
		t.Fatal(err)
	}
	if !parsed.Loaded {
		t.Error("state should mark the backend loaded")
	}
	if len(pre.urls) != 2 {
		t.Errorf("preloaded %v, want both weight urls", pre.urls)
	}
}

func TestHTTPLoadPreloadFailure(t *testing.T) {
	rt := newRuntime(t, "ok")
	pre := &fakePreloader{err: errors.New("offline")}
	h := NewHTTP("Xenova/gpt2", "GPT-2", rt.URL, "sk-test", SizeMedium, []string{"u"}, pre)

	if _, err := h.Load(context.Background()); err == nil {
		t.Error("a failed weight preload should fail the load")
	}
}

func TestHTTPLoadUnauthorized(t *testing.T) {
	rt := newRuntime(t, "ok")
	h := NewHTTP("Xenova/gpt2", "GPT-2", rt.URL, "wrong-key", SizeMedium, nil, nil)

	if _, err := h.Load(context.Background()); err == nil {
		t.Error("a rejected runtime check should fail the load")
	}
}

func TestHTTPGenerate(t *testing.T) {
	rt := newRuntime(t, "K线图是OHLC图表。")
	h := NewHTTP("Xenova/gpt2", "GPT-2", rt.URL, "sk-test", SizeMedium, nil, nil)

	var chunks []string
	text, err := h.Generate(context.Background(), "什么是K线图？", func(s string) {
		chunks = append(chunks, s)
	})
	if err != nil {
		t.Fatal(err)
	}
	if text != "K线图是OHLC图表。" {
		t.Errorf("unexpected text: %s", text)
	}
	if strings.Join(chunks, "") != text {
		t.Error("streamed chunks should reassemble to the full text")
	}
}

func TestHTTPGenerateEmptyCompletion(t *testing.T) {
	rt := newRuntime(t, "")
	h := NewHTTP("Xenova/gpt2", "GPT-2", rt.URL, "sk-test", SizeMedium, nil, nil)

	if _, err := h.Generate(context.Background(), "q", nil); err == nil {
		t.Error("empty completion should be an error, not a cached blank answer")
	}
}
