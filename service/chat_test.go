package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/rushteam/tastekit/core"
)

func chatServer(t *testing.T, content string, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = io.WriteString(w, `{"error":"boom"}`)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": content}}},
		})
	}))
}

func newTestChat(url string) *ChatClient {
	return NewChatClient(url, "gpt-4o-mini",
		WithChatAuth(BearerAuth("sk-test")),
		WithChatGuard(GuardConfig{Name: "chat_test", Timeout: 2 * time.Second, Attempts: 1}),
	)
}

func TestChatClient_ScorePost(t *testing.T) {
	srv := chatServer(t, `{"score": 1.4, "tags": ["film", "`+strings.Repeat("x", 60)+`"], "imageDescription": "a quiet street", "aiSignals": true}`, http.StatusOK)
	defer srv.Close()

	post := &core.Post{ID: "p1", ImageURL: "https://img/1.jpg", Caption: "night walk"}
	res := newTestChat(srv.URL).ScorePost(context.Background(), post, core.Preferences{Topics: []string{"street"}}, core.Feedback{})

	if res.Outcome != core.OutcomeOK {
		t.Fatalf("Outcome = %v, err = %v", res.Outcome, res.Err)
	}
	if res.Value.Score == nil || *res.Value.Score != 1 {
		t.Errorf("分数应被截断到 1，实际 %v", res.Value.Score)
	}
	if len(res.Value.Tags[1]) != visionTagLen {
		t.Errorf("tag 应截断到 %d 字符", visionTagLen)
	}
	if !res.Value.AISignals || res.Value.Description != "a quiet street" {
		t.Errorf("解析结果不正确: %+v", res.Value)
	}
}

func TestChatClient_ScorePost_Outcomes(t *testing.T) {
	post := &core.Post{ID: "p1", ImageURL: "https://img/1.jpg"}

	t.Run("parse_error", func(t *testing.T) {
		srv := chatServer(t, "I think this is nice", http.StatusOK)
		defer srv.Close()
		res := newTestChat(srv.URL).ScorePost(context.Background(), post, core.Preferences{}, core.Feedback{})
		if res.Outcome != core.OutcomeParseError {
			t.Errorf("Outcome = %v, 期望 parse_error", res.Outcome)
		}
	})

	t.Run("markdown_fence", func(t *testing.T) {
		srv := chatServer(t, "```json\n{\"score\": 0.4}\n```", http.StatusOK)
		defer srv.Close()
		res := newTestChat(srv.URL).ScorePost(context.Background(), post, core.Preferences{}, core.Feedback{})
		if res.Outcome != core.OutcomeOK || res.Value.Score == nil || *res.Value.Score != 0.4 {
			t.Errorf("应容忍代码块包裹，实际 %+v", res)
		}
	})

	t.Run("network_error", func(t *testing.T) {
		srv := chatServer(t, "", http.StatusBadGateway)
		defer srv.Close()
		res := newTestChat(srv.URL).ScorePost(context.Background(), post, core.Preferences{}, core.Feedback{})
		if res.Outcome != core.OutcomeNetworkError {
			t.Errorf("Outcome = %v, 期望 network_error", res.Outcome)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer srv.Close()
		c := NewChatClient(srv.URL, "", WithChatGuard(GuardConfig{Name: "chat_timeout", Timeout: 50 * time.Millisecond, Attempts: 1}))
		res := c.ScorePost(context.Background(), post, core.Preferences{}, core.Feedback{})
		if res.Outcome != core.OutcomeTimeout {
			t.Errorf("Outcome = %v, 期望 timeout", res.Outcome)
		}
	})

	t.Run("no_image", func(t *testing.T) {
		res := NewChatClient("http://127.0.0.1:0", "").ScorePost(context.Background(), &core.Post{ID: "x"}, core.Preferences{}, core.Feedback{})
		if res.Outcome != core.OutcomeOK || res.Value.Score != nil {
			t.Errorf("没有图片时不应发起调用，实际 %+v", res)
		}
	})
}

func TestChatClient_JudgeGroup(t *testing.T) {
	srv := chatServer(t, `{"ranking": [2, 0], "images": [
		{"index": 0, "vibe": 0.7, "tags": ["warm"], "description": "film portrait", "aiGenerated": false},
		{"index": 2, "vibe": 0.9, "aiGenerated": true}
	]}`, http.StatusOK)
	defer srv.Close()

	group := []*core.Post{
		{ID: "a", ImageURL: "https://img/a.jpg"},
		{ID: "b", ImageURL: "https://img/b.jpg"},
		{ID: "c", ImageURL: "https://img/c.jpg"},
	}
	res := newTestChat(srv.URL).JudgeGroup(context.Background(), group, core.Preferences{}, core.Feedback{})
	if res.Outcome != core.OutcomeOK {
		t.Fatalf("Outcome = %v, err = %v", res.Outcome, res.Err)
	}
	if diff := cmp.Diff([]int{2, 0}, res.Value.Order); diff != "" {
		t.Errorf("Order mismatch (-want +got):\n%s", diff)
	}
	if len(res.Value.Entries) != 2 || res.Value.Entries[1].Index != 2 || !res.Value.Entries[1].AIGenerated {
		t.Errorf("Entries 解析不正确: %+v", res.Value.Entries)
	}
}

func TestPreferenceBlock_Limits(t *testing.T) {
	fb := core.Feedback{}
	for i := 0; i < 10; i++ {
		fb.Liked = append(fb.Liked, core.FeedbackItem{Caption: strings.Repeat("a", 300)})
	}
	prefs := core.Preferences{LikedAccounts: []string{"@a", "b", "c", "d", "e", "f", "g"}}
	block := preferenceBlock(prefs, fb)

	if !strings.Contains(block, `Liked accounts: ["a","b","c","d","e"]`) {
		t.Errorf("喜欢账号应截断到 5 个: %s", block)
	}
	if strings.Contains(block, strings.Repeat("a", 201)) {
		t.Errorf("反馈 caption 应截断到 200 字符")
	}
	if n := strings.Count(block, strings.Repeat("a", 200)); n != promptFeedbackItems {
		t.Errorf("反馈条数应为 %d，实际 %d", promptFeedbackItems, n)
	}
}
